//go:build !unix

package artifacts

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}
