// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix

package lsp

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcAttr places the server in its own process group. rust-analyzer
// forks a proc-macro server; killing the group reaps it along with the parent.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup force-kills the process group rooted at pid.
func killProcessGroup(pid int) error {
	return unix.Kill(-pid, unix.SIGKILL)
}
