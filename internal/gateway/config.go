package gateway

import "time"

// Config holds gateway configuration.
type Config struct {
	// Host and Port bind the WebSocket listener.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// HTTPPort, when non-zero, enables the SSE listener. HTTPPathPrefix
	// prefixes its routes; HTTPCorsOrigin sets Access-Control-Allow-Origin.
	HTTPPort       int    `yaml:"httpPort"`
	HTTPPathPrefix string `yaml:"httpPathPrefix"`
	HTTPCorsOrigin string `yaml:"httpCorsOrigin"`

	// SocketIOPort, when non-zero, enables the Socket.IO listener.
	SocketIOPort int `yaml:"socketIOPort"`

	// UnixSocket, when set, enables the unix domain socket listener.
	UnixSocket string `yaml:"unixSocket"`

	// DefaultApp names the app used for bare session keys.
	DefaultApp string `yaml:"defaultApp"`

	Auth AuthConfig `yaml:"auth"`

	// RequestTimeout bounds built-in RPC handlers. Default 5s.
	RequestTimeout time.Duration `yaml:"requestTimeout"`

	// BufferMax and Overflow configure per-client event buffers.
	BufferMax int              `yaml:"bufferMax"`
	Overflow  OverflowStrategy `yaml:"overflow"`

	// HistoryLimit caps history page size. Default 50.
	HistoryLimit int `yaml:"historyLimit"`
}

// defaults fills zero values.
func (c *Config) defaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8793
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.BufferMax == 0 {
		c.BufferMax = 1000
	}
	if c.Overflow == "" {
		c.Overflow = OverflowDisconnect
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
}
