//go:build unix

package blender

import "syscall"

// setLowPriority renices the subprocess so background host work yields to an
// interactive host instance running on the same machine. Best-effort; a
// failed setpriority is ignored.
func setLowPriority(pid int) {
	_ = syscall.Setpriority(syscall.PRIO_PROCESS, pid, 10)
}
