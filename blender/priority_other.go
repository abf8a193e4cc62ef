//go:build !unix

package blender

// setLowPriority is a no-op where setpriority is unavailable.
func setLowPriority(pid int) {}
