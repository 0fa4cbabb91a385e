package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultDBPort        = 5432
	DefaultDBSSLMode     = "prefer"
	DefaultMaxConns      = 10
	DefaultMinConns      = 2
	DefaultBatchSize     = 500
	DefaultFlushInterval = 1 * time.Second
	DefaultBufferSize    = 4096
)

func (c *Config) applyDefaults() {
	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	// Socket timing stays zero unless set; the socket library applies its
	// own defaults.
}
