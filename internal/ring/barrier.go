//go:build linux && cgo

package ring

/*
#include <stdint.h>

// x86-64 store fence to ensure all prior stores are globally visible.
static inline void sfence_impl(void) {
    __asm__ __volatile__("sfence" ::: "memory");
}

// x86-64 full memory fence to ensure all prior memory operations complete.
static inline void mfence_impl(void) {
    __asm__ __volatile__("mfence" ::: "memory");
}
*/
import "C"

// sfence issues a store fence (x86 SFENCE instruction), ensuring every
// store a producer made into the mirrored mapping's body bytes is globally
// visible before the head cursor that publishes them advances.
func sfence() {
	C.sfence_impl()
}

// mfence issues a full memory fence (x86 MFENCE instruction), used by the
// consumer before reading a frame it just observed via the tail cursor.
func mfence() {
	C.mfence_impl()
}
