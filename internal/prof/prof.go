// Package prof starts continuous profiling for long builds and the preview
// server. Off by default; a blog build rarely needs it, but publishing a
// large archive over a slow link is exactly when you want a flame graph.
package prof

import (
	"context"
	"runtime"

	"github.com/grafana/pyroscope-go"

	"github.com/davidsbond/blog/internal/log"
	"github.com/davidsbond/blog/internal/xerrors"
)

type Options struct {
	Enabled              bool
	AppName              string
	ServerAddress        string
	Tags                 map[string]string
	ProfileMutexFraction int
	BlockProfileRate     int
}

// Start begins profiling and returns a stop function. The stop function is
// always non-nil, even on error, so callers can defer it unconditionally.
func Start(ctx context.Context, opts Options) (func(), error) {
	logger := log.FromContext(ctx)

	if !opts.Enabled {
		return func() {}, nil
	}

	if opts.ServerAddress == "" {
		return func() {}, xerrors.New("profiling enabled but no server address given")
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		Tags:            opts.Tags,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return func() {}, xerrors.Wrap(err, "start profiler")
	}

	logger.Info(ctx, "profiling started",
		"server_address", opts.ServerAddress,
		"app_name", opts.AppName,
	)

	return func() {
		profiler.Stop()
	}, nil
}
