package bootstrap

import (
	"github.com/telflow/telflow/common/config"
	"github.com/telflow/telflow/common/logger"
)

// Option configures bootstrap behavior
type Option func(*options)

type options struct {
	customConfig *config.Config
	customLogger *logger.Logger
	skipDB       bool
	skipRedis    bool
}

func defaultOptions() *options {
	return &options{}
}

// WithCustomConfig uses a pre-built config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

// WithCustomLogger uses a pre-built logger
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) { o.customLogger = log }
}

// SkipDB skips database initialization regardless of config
func SkipDB() Option {
	return func(o *options) { o.skipDB = true }
}

// SkipRedis skips Redis initialization regardless of config
func SkipRedis() Option {
	return func(o *options) { o.skipRedis = true }
}
