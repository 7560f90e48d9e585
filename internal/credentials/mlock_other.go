//go:build !unix

package credentials

func secureMemoryAvailable() bool { return false }

// PurgeSecureMemory is a no-op without locked memory.
func PurgeSecureMemory() {}
