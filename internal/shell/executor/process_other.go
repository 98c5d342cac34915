//go:build !unix

package executor

import "os/exec"

// configureProcess keeps the default cancellation, which kills the child.
func configureProcess(*exec.Cmd) {}
