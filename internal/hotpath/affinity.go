package hotpath

// PinResult reports the outcome of a pinning or scheduling request.
// Failure is a degraded-performance condition, never a fatal error:
// callers log the reason and continue unpinned.
type PinResult struct {
	Applied bool
	Reason  string
}

// PinCurrentThread binds the calling OS thread to one logical CPU.
// The caller must have locked the goroutine to its thread with
// runtime.LockOSThread first, otherwise the pin outlives the goroutine.
// Core indices outside the supported range report a reason instead of
// failing hard.
func PinCurrentThread(core int) PinResult {
	return pinThread(core)
}

// RequestRealtimePriority asks the kernel for SCHED_FIFO at the given
// priority for the calling thread. Requires elevated privileges on most
// systems; EPERM is reported, not escalated.
func RequestRealtimePriority(priority int) PinResult {
	return setRealtime(priority)
}
