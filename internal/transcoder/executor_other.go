//go:build !unix

package transcoder

import "os/exec"

func setProcessGroup(*exec.Cmd) {}
