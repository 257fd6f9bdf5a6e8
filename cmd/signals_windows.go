//go:build windows

package cmd

import "os"

// Windows has no user signals; the daemon relies on its interval and
// connectivity probes there.
var (
	syncSignal   os.Signal
	resumeSignal os.Signal
)
