package server

import (
	"fmt"

	"go.uber.org/zap"

	"customdomains/internal/config"
)

// NewLogger builds the process logger: JSON lines when cfg.JSON is set,
// colored console output otherwise.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.JSON {
		zcfg = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}
