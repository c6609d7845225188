// Package affinity pins the calling goroutine's OS thread to a specific
// hyper-thread (logical CPU) for the lifetime of a consumer loop.
package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin locks the calling goroutine to its current OS thread and sets that
// thread's CPU affinity to exactly cpuID. The caller must not unlock the OS
// thread until it is done consuming from its queue — swapping OS threads
// mid-loop would defeat the pin.
//
// Unpin must be called (typically via defer) to release the OS thread lock
// once the loop exits.
func Pin(cpuID int) (unpin func(), err error) {
	runtime.LockOSThread()

	var mask unix.CPUSet
	mask.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("affinity: sched_setaffinity to CPU %d: %w", cpuID, err)
	}

	return runtime.UnlockOSThread, nil
}

// CurrentCPU returns the logical CPU the calling goroutine's OS thread is
// presently running on. Without a preceding Pin, the result is only a
// snapshot: the scheduler is free to migrate the thread before the caller
// acts on it.
func CurrentCPU() (int, error) {
	cpu, err := unix.SchedGetcpu()
	if err != nil {
		return 0, fmt.Errorf("affinity: sched_getcpu: %w", err)
	}
	return cpu, nil
}

// ForHyperThread chooses a CPU id for the given hyper-thread index out of a
// caller-supplied set of eligible CPUs, assigning round-robin when there are
// more hyper-threads than CPUs.
func ForHyperThread(hyperThread int, cpus []int) (int, error) {
	if len(cpus) == 0 {
		return 0, fmt.Errorf("affinity: no eligible CPUs configured")
	}
	return cpus[hyperThread%len(cpus)], nil
}
