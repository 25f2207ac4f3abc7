// File: thread/tls.go
// Author: momentics <momentics@gmail.com>
//
// Static helpers mirroring Thread::GetThreadId/GetName/SetName.
// Go has no TLS, so the "current thread" registry is a tid-keyed map
// exactly like fiber's (see fiber/tls.go).

package thread

import (
	"sync"

	"golang.org/x/sys/unix"
)

var (
	namesMu sync.Mutex
	names   = map[int32]string{}
)

// GetThreadID returns the kernel tid of the calling OS thread.
func GetThreadID() int32 {
	return int32(unix.Gettid())
}

// SetThreadName records name for the calling OS thread and applies it
// via prctl. Call this from the main/caller thread too, since it never
// goes through New.
func SetThreadName(name string) {
	setName(name)
	namesMu.Lock()
	names[GetThreadID()] = name
	namesMu.Unlock()
}

// GetThreadName returns the name previously recorded for the calling OS
// thread, or "" if none was set.
func GetThreadName() string {
	namesMu.Lock()
	defer namesMu.Unlock()
	return names[GetThreadID()]
}
