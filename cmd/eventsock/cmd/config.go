package cmd

import (
	"github.com/tsarna/eventsock/pkg/eventsock/config"
	"go.uber.org/zap"
)

// loadConfig reads the given HCL sources, or returns the defaults when there are none.
func loadConfig(logger *zap.Logger, paths []string) (*config.Config, error) {
	if len(paths) == 0 {
		return config.Default(), nil
	}

	sources := make([]any, len(paths))
	for i, p := range paths {
		sources[i] = p
	}

	cfg, diags := config.NewConfig().
		WithLogger(logger).
		WithSources(sources...).
		Build()
	if diags.HasErrors() {
		logger.Error("Failed to load config", zap.Strings("config-paths", paths), zap.Error(diags))
		return nil, diags
	}

	return cfg, nil
}
