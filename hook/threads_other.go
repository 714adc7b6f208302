//go:build !windows || !(386 || amd64)

package hook

// NativeThreads returns nil where threads of the process cannot be
// suspended, and head writes rely on the parked jump alone.
func NativeThreads() Threads {
	return nil
}
