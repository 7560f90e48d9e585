//go:build unix

package credentials

import (
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// minMlockLimitKB is the mlock budget needed before passwords go to locked memory.
const minMlockLimitKB = 1024

var (
	secureOnce      sync.Once
	secureAvailable bool
)

// secureMemoryAvailable checks RLIMIT_MEMLOCK once. memguard panics when a
// locked allocation fails, so it is only used with enough headroom.
// KIWI_INSECURE_MEMORY=true forces the plain fallback.
func secureMemoryAvailable() bool {
	secureOnce.Do(func() {
		if os.Getenv("KIWI_INSECURE_MEMORY") == "true" {
			return
		}
		var rlimit unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
			return
		}
		if rlimit.Cur != unix.RLIM_INFINITY && rlimit.Cur/1024 < minMlockLimitKB {
			return
		}
		secureAvailable = true
	})
	return secureAvailable
}

// PurgeSecureMemory wipes every memguard buffer. Call on shutdown.
func PurgeSecureMemory() {
	if secureAvailable {
		memguard.Purge()
	}
}
