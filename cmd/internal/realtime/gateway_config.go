package realtime

import (
	"time"

	"arcfeed/cmd/internal/envconf"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 8

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute

	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// ConnObserver receives websocket session events, typically for metrics.
type ConnObserver interface {
	SessionOpened()
	SessionClosed(reason string)
}

// GatewayConfig holds the websocket gateway policy.
type GatewayConfig struct {
	// DevInsecure skips websocket.Accept origin verification entirely.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration

	Observer ConnObserver
}

// GatewayConfigFromEnv loads the gateway policy from ARC_WS_* variables.
func GatewayConfigFromEnv() GatewayConfig {
	allowed := envconf.List("ARC_WS_ALLOWED_ORIGINS")
	if allowed == nil {
		allowed = splitCSV(wsDefaultAllowedOrigins)
	}
	return GatewayConfig{
		DevInsecure:    envconf.Bool("ARC_WS_DEV_INSECURE", false),
		OriginRequired: envconf.Bool("ARC_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired),
		AllowedOrigins: allowed,

		WriteTimeout:    envconf.Duration("ARC_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout),
		ReadIdleTimeout: envconf.Duration("ARC_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle),
		SendQueueSize:   envconf.Int("ARC_WS_SEND_QUEUE", wsDefaultSendQueueSize),

		HeartbeatEvery:   envconf.Duration("ARC_WS_HEARTBEAT_INTERVAL", heartbeatInterval),
		HeartbeatTimeout: envconf.Duration("ARC_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout),

		RateEvents: envconf.Int("ARC_WS_RATE_EVENTS", rateLimitEvents),
		RateWindow: envconf.Duration("ARC_WS_RATE_WINDOW", rateLimitWindow),
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = splitCSV(wsDefaultAllowedOrigins)
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = wsDefaultWriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = wsDefaultReadIdle
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = wsDefaultSendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	return c
}
