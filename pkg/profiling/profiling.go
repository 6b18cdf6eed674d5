package profiling

import (
	"fmt"
	"runtime"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/bthome/pkg/config"
)

// Profiler wraps the Pyroscope profiler
type Profiler struct {
	profiler *pyroscope.Profiler
	logger   *zap.Logger
}

// ProfileTypes maps the configured profile names to Pyroscope profile types.
func ProfileTypes(cfg *config.ProfilingConfig) []pyroscope.ProfileType {
	var types []pyroscope.ProfileType
	for _, name := range cfg.ProfileTypes {
		switch name {
		case config.ProfileCPU:
			types = append(types, pyroscope.ProfileCPU)
		case config.ProfileAllocObjects:
			types = append(types, pyroscope.ProfileAllocObjects)
		case config.ProfileAllocSpace:
			types = append(types, pyroscope.ProfileAllocSpace)
		case config.ProfileInuseObjects:
			types = append(types, pyroscope.ProfileInuseObjects)
		case config.ProfileInuseSpace:
			types = append(types, pyroscope.ProfileInuseSpace)
		case config.ProfileGoroutines:
			types = append(types, pyroscope.ProfileGoroutines)
		case config.ProfileMutex:
			types = append(types, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration)
		case config.ProfileBlock:
			types = append(types, pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration)
		}
	}
	return types
}

// Start starts the Pyroscope profiler in push mode. It returns nil when
// profiling is disabled; Stop is safe on a nil Profiler.
func Start(cfg *config.ProfilingConfig, logger *zap.Logger) (*Profiler, error) {
	if !cfg.Enabled {
		logger.Info("profiling is disabled")
		return nil, nil
	}

	if cfg.Has(config.ProfileMutex) {
		runtime.SetMutexProfileFraction(cfg.MutexProfileRate)
	}
	if cfg.Has(config.ProfileBlock) {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}

	tags := make(map[string]string, len(cfg.Tags))
	for k, v := range cfg.Tags {
		tags[k] = v
	}

	types := ProfileTypes(cfg)
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName:   cfg.ApplicationName,
		ServerAddress:     cfg.ServerAddress,
		BasicAuthUser:     cfg.BasicAuthUser,
		BasicAuthPassword: cfg.BasicAuthPassword,
		TenantID:          cfg.TenantID,
		Tags:              tags,
		ProfileTypes:      types,
		DisableGCRuns:     cfg.DisableGCRuns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}

	logger.Info("Pyroscope profiler started",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("application_name", cfg.ApplicationName),
		zap.Strings("profile_types", cfg.ProfileTypes),
		zap.Int("profile_types_count", len(types)),
	)

	return &Profiler{
		profiler: profiler,
		logger:   logger,
	}, nil
}

// Stop flushes and stops the profiler
func (p *Profiler) Stop() error {
	if p == nil || p.profiler == nil {
		return nil
	}

	if err := p.profiler.Stop(); err != nil {
		p.logger.Error("failed to stop profiler", zap.Error(err))
		return fmt.Errorf("profiler stop: %w", err)
	}

	p.logger.Info("Pyroscope profiler stopped")
	return nil
}
