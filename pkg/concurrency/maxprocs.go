package concurrency

import (
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"
)

// AlignMaxProcs matches GOMAXPROCS to the container CPU quota, so a run's
// width is not undermined by cgroup limits the runtime cannot see. Call it
// once at process start; the returned func restores the previous value.
// printf receives a short report of what was set and may be nil.
func AlignMaxProcs(printf func(format string, args ...interface{})) func() {
	var opts []maxprocs.Option
	if printf != nil {
		opts = append(opts, maxprocs.Logger(printf))
	}
	undo, err := maxprocs.Set(opts...)
	if err != nil {
		if printf != nil {
			printf("failed to align GOMAXPROCS: %v", err)
		}
		return func() {}
	}
	return undo
}

// EffectiveCPUs returns the CPU parallelism the process actually has after
// quota alignment.
func EffectiveCPUs() int {
	return runtime.GOMAXPROCS(0)
}
