//go:build linux

package hotpath

import (
	"fmt"
	"syscall"
	"unsafe"
)

// One pre-built affinity word per logical CPU 0-63. The kernel reads the
// mask as a contiguous 8-byte buffer, which is exactly one uintptr on
// 64-bit targets. CPUs >= 64 fall back to "no pin".
var cpuMasks [64][1]uintptr

func init() {
	for i := range cpuMasks {
		cpuMasks[i][0] = 1 << uint(i)
	}
}

// pinThread pins the current OS thread (pid 0) to the given core via
// sched_setaffinity(2).
func pinThread(core int) PinResult {
	if core < 0 || core >= len(cpuMasks) {
		return PinResult{Reason: fmt.Sprintf("core %d outside supported range 0-%d", core, len(cpuMasks)-1)}
	}
	mask := &cpuMasks[core]
	_, _, errno := syscall.RawSyscall(
		syscall.SYS_SCHED_SETAFFINITY,
		0,
		uintptr(unsafe.Sizeof(mask[0])),
		uintptr(unsafe.Pointer(mask)),
	)
	if errno != 0 {
		return PinResult{Reason: fmt.Sprintf("sched_setaffinity(%d): %v", core, errno)}
	}
	return PinResult{Applied: true}
}

const schedFIFO = 1

type schedParam struct {
	priority int32
}

// setRealtime requests SCHED_FIFO for the current thread. Typically needs
// CAP_SYS_NICE; the EPERM case is the expected unprivileged outcome.
func setRealtime(priority int) PinResult {
	if priority < 1 || priority > 99 {
		return PinResult{Reason: fmt.Sprintf("priority %d outside SCHED_FIFO range 1-99", priority)}
	}
	param := schedParam{priority: int32(priority)}
	_, _, errno := syscall.RawSyscall(
		syscall.SYS_SCHED_SETSCHEDULER,
		0,
		schedFIFO,
		uintptr(unsafe.Pointer(&param)),
	)
	if errno != 0 {
		return PinResult{Reason: fmt.Sprintf("sched_setscheduler(fifo, %d): %v", priority, errno)}
	}
	return PinResult{Applied: true}
}
