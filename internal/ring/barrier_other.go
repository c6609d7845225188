//go:build !(linux && cgo)

package ring

// sfence falls back to the atomic package's release-store semantics on
// platforms or builds without cgo; sync/atomic operations already emit the
// fences the Go memory model requires, so this is a documented no-op rather
// than a missing barrier.
func sfence() {}

// mfence is the matching no-op fallback for the consumer side.
func mfence() {}
