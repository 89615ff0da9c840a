package main

import (
	"fmt"

	"github.com/grafana/pyroscope-go"
	"github.com/rs/zerolog/log"

	"pnlrelay/internal/infrastructure/config"
)

type profilerLogger struct{}

func (profilerLogger) Infof(format string, args ...interface{}) {
	log.Debug().Str("component", "pyroscope").Msg(fmt.Sprintf(format, args...))
}

func (profilerLogger) Debugf(format string, args ...interface{}) {}

func (profilerLogger) Errorf(format string, args ...interface{}) {
	log.Warn().Str("component", "pyroscope").Msg(fmt.Sprintf(format, args...))
}

func startProfiler(cfg *config.Config) (func(), error) {
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.Profiling.AppName,
		ServerAddress:   cfg.Profiling.ServerAddress,
		Tags: map[string]string{
			"feed": cfg.Feed.Name,
		},
		Logger: profilerLogger{},
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
		return nil, err
	}
	log.Info().Str("server", cfg.Profiling.ServerAddress).Msg("pyroscope profiling enabled")
	return func() { _ = profiler.Stop() }, nil
}
