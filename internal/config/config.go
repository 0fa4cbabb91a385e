package config

import (
	"net/http"
	"time"
)

// Config is the root configuration for the channel client tools.
type Config struct {
	Socket   SocketConfig   `yaml:"socket"`
	Topics   []TopicConfig  `yaml:"topics"`
	Database DBConfig       `yaml:"database"`
	Recorder RecorderConfig `yaml:"recorder"`
}

// SocketConfig holds the connection settings for one socket endpoint.
// Zero-valued timing fields defer to the library defaults.
type SocketConfig struct {
	URL               string            `yaml:"url"`
	ProtocolVersion   string            `yaml:"protocol_version"`
	Params            map[string]string `yaml:"params"`
	Headers           map[string]string `yaml:"headers"`
	HeartbeatInterval time.Duration     `yaml:"heartbeat_interval"`
	ReconnectInterval time.Duration     `yaml:"reconnect_interval"`
	DisableReconnect  bool              `yaml:"disable_reconnect"`
}

// HTTPHeaders converts the flat header map into the form the transport
// handshake expects.
func (c SocketConfig) HTTPHeaders() http.Header {
	if len(c.Headers) == 0 {
		return nil
	}
	headers := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		headers.Set(k, v)
	}
	return headers
}

// TopicConfig is one channel subscription.
type TopicConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

// DBConfig holds the PostgreSQL connection for recorded messages.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RecorderConfig holds batch recorder settings.
type RecorderConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}
