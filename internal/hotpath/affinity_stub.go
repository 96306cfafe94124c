//go:build !linux

package hotpath

// Thread pinning and real-time scheduling are Linux-only. On other
// platforms both report unsupported so callers degrade to unpinned
// operation.

func pinThread(core int) PinResult {
	return PinResult{Reason: "cpu pinning not supported on this platform"}
}

func setRealtime(priority int) PinResult {
	return PinResult{Reason: "real-time scheduling not supported on this platform"}
}
