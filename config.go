package phxsocket

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"
)

// Default values for optional configuration fields.
const (
	DefaultProtocolVersion   = VersionV2
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReconnectInterval = 60 * time.Second
)

// flushInterval is the fixed period of the outbound flush cycle: at most one
// queued message is transmitted per period.
const flushInterval = 100 * time.Millisecond

// versionParam is the query-string marker carrying the protocol version.
const versionParam = "vsn"

// Config configures a Socket. Zero values take the documented defaults.
type Config struct {
	// URL is the socket endpoint (ws:// or wss://). Required.
	URL string

	// Transport performs the raw socket I/O. Defaults to the gorilla-backed
	// Websocket transport.
	Transport        Transport
	TransportOptions TransportOptions

	// Serializer encodes and decodes wire frames. Defaults to JSONSerializer.
	Serializer Serializer

	// JSONCodec is the JSON library handed to the serializer. Defaults to
	// encoding/json.
	JSONCodec JSONCodec

	// DisableReconnect turns off automatic reconnection after connection
	// loss. By default the socket schedules one reconnect attempt per
	// ReconnectInterval after each failure.
	DisableReconnect bool

	// ProtocolVersion selects the wire format. Defaults to "2.0.0".
	ProtocolVersion string

	// Params are merged into the connection URL's query string. A user param
	// wins on key collision, including over the version marker.
	Params map[string]string

	// Headers are sent with the transport handshake. Ignored when
	// TransportOptions.Headers is set explicitly.
	Headers http.Header

	HeartbeatInterval time.Duration
	ReconnectInterval time.Duration

	// Logger receives structured lifecycle and routing logs. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Clock is the timer source for the heartbeat, flush, and reconnect
	// cycles. Defaults to the wall clock; tests substitute clock.NewMock().
	Clock clock.Clock
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Transport == nil {
		c.Transport = NewWebsocket(c.Logger)
	}
	if c.Serializer == nil {
		c.Serializer = JSONSerializer{}
	}
	if c.JSONCodec == nil {
		c.JSONCodec = stdJSON{}
	}
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = DefaultProtocolVersion
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.TransportOptions.Headers == nil && c.Headers != nil {
		c.TransportOptions.Headers = c.Headers
	}
}

func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	if c.HeartbeatInterval < 0 {
		return errors.New("heartbeat interval must be >= 0")
	}
	if c.ReconnectInterval < 0 {
		return errors.New("reconnect interval must be >= 0")
	}
	return nil
}

// buildURL merges the protocol-version marker and the user params into the
// endpoint's query string. The marker is applied first so a user param with
// the same key overrides it.
func buildURL(raw, version string, params map[string]string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	q := u.Query()
	q.Set(versionParam, version)
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
