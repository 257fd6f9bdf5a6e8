//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// syncSignal asks a running daemon for an immediate cycle.
var syncSignal os.Signal = syscall.SIGUSR1

// resumeSignal is delivered when a suspended daemon is continued.
var resumeSignal os.Signal = syscall.SIGCONT
