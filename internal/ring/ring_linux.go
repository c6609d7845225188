//go:build linux

package ring

import (
	"fmt"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// allocate maps a 2*capacity virtual address range and double-maps a single
// memfd-backed region across it, so a window anywhere in [0, capacity) can
// be read as a contiguous span even when it straddles the logical end of
// the buffer. The same double-mmap technique is used elsewhere to present
// kernel-shared descriptor and I/O buffer regions as contiguous; here it
// applies to an anonymous shared mapping instead of a device file descriptor.
func allocate(cfg Config) (*Ring, error) {
	pageSize := uintptr(unix.Getpagesize())
	capacity := roundUpPage(uintptr(cfg.ByteCapacity), pageSize)
	wasted := uint64(capacity) - cfg.ByteCapacity
	if cfg.MaxWastedBytes > 0 && wasted > cfg.MaxWastedBytes {
		return nil, fmt.Errorf("ring: rounding %d bytes up to the %d-byte page size would waste %d bytes (max %d)",
			cfg.ByteCapacity, pageSize, wasted, cfg.MaxWastedBytes)
	}

	fd, err := unix.MemfdCreate("hyperq-ring", 0)
	if err != nil {
		return nil, fmt.Errorf("ring: memfd_create: %w", err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(capacity)); err != nil {
		return nil, fmt.Errorf("ring: ftruncate to %d bytes: %w", capacity, err)
	}

	// Reserve a contiguous 2*capacity virtual range so the two real
	// mappings below are guaranteed to land adjacent to each other.
	base, _, errno := syscall.Syscall6(
		syscall.SYS_MMAP, 0, capacity*2,
		unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS, ^uintptr(0), 0,
	)
	if errno != 0 {
		return nil, fmt.Errorf("ring: reserve mmap of %d bytes: %w", capacity*2, errno)
	}

	if err := mapFixed(fd, base, capacity); err != nil {
		munmapRaw(base, capacity*2)
		return nil, err
	}
	if err := mapFixed(fd, base+capacity, capacity); err != nil {
		munmapRaw(base, capacity*2)
		return nil, err
	}

	buf := unsafe.Slice((*byte)(unsafe.Pointer(base)), int(capacity)*2)

	r := &Ring{
		buf:      buf,
		capacity: uint64(capacity),
	}
	r.unmap = func() error {
		return munmapRaw(base, capacity*2)
	}
	return r, nil
}

// mapFixed replaces length bytes of the reservation starting at addr with a
// real MAP_SHARED mapping of fd, so writes through addr are visible through
// any other mapping of the same fd (including the mirrored half).
func mapFixed(fd int, addr, length uintptr) error {
	_, _, errno := syscall.Syscall6(
		syscall.SYS_MMAP, addr, length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_FIXED, uintptr(fd), 0,
	)
	if errno != 0 {
		return fmt.Errorf("ring: fixed mmap of %d bytes at %#x: %w", length, addr, errno)
	}
	return nil
}

func munmapRaw(addr, length uintptr) error {
	_, _, errno := syscall.Syscall(syscall.SYS_MUNMAP, addr, length, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func roundUpPage(value, pageSize uintptr) uintptr {
	return (value + pageSize - 1) &^ (pageSize - 1)
}

const (
	futexWaitOp = 0
	futexWakeOp = 1
)

// waitForData parks the calling goroutine on the ring's wake futex word
// until a producer advances the head, instead of spinning (§6 describes
// this as an implementation choice beneath the ring's read contract).
func waitForData(r *Ring) error {
	for {
		if r.head.Load() != r.tail.Load() {
			return nil
		}
		word := atomic.LoadUint32(&r.wake)
		if err := futexWait(&r.wake, word); err != nil {
			return err
		}
	}
}

func notifyWaiters(r *Ring) {
	futexWake(&r.wake, 1)
}

func futexWait(addr *uint32, expected uint32) error {
	_, _, errno := syscall.Syscall6(
		syscall.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), futexWaitOp,
		uintptr(expected), 0, 0, 0,
	)
	if errno != 0 && errno != syscall.EAGAIN && errno != syscall.EINTR {
		return errno
	}
	return nil
}

func futexWake(addr *uint32, n int) {
	syscall.Syscall6(syscall.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), futexWakeOp, uintptr(n), 0, 0, 0)
}
