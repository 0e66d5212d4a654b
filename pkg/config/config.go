// Package config реализует загрузку конфигурации.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/udisondev/clunks/pkg/protocol"
)

// Config конфигурация сервера и клиента clunks.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Channel ChannelConfig `yaml:"channel"`
	Limits  LimitsConfig  `yaml:"limits"`
	NATS    NATSConfig    `yaml:"nats"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig адреса сервера.
type ServerConfig struct {
	Host    string `yaml:"host"`
	TCPPort int    `yaml:"tcp_port"`
	UDPPort int    `yaml:"udp_port"`
}

// TCPAddr возвращает TCP адрес сервера в формате host:port.
func (c ServerConfig) TCPAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.TCPPort))
}

// ClientConfig параметры подключения клиента.
type ClientConfig struct {
	ServerHost string `yaml:"server_host"`
	TCPPort    int    `yaml:"tcp_port"`
	UDPPort    int    `yaml:"udp_port"`
	Strength   string `yaml:"strength"`
}

// ParsedStrength возвращает пресет шифрования.
func (c ClientConfig) ParsedStrength() (protocol.Strength, error) {
	return protocol.ParseStrength(c.Strength)
}

// ChannelConfig параметры канала, общие для обеих сторон.
type ChannelConfig struct {
	BufferSize          int           `yaml:"buffer_size"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	MaxMissedHeartbeats int           `yaml:"max_missed_heartbeats"`
	HandshakeAttempts   int           `yaml:"handshake_attempts"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	MaxFrameSize        int           `yaml:"max_frame_size"`
}

// LimitsConfig конфигурация лимитов.
type LimitsConfig struct {
	MaxClients      int     `yaml:"max_clients"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
}

// NATSConfig конфигурация NATS. Пустой urls отключает мост к хранилищу.
type NATSConfig struct {
	URLs           []string      `yaml:"urls"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// MetricsConfig адрес HTTP сервера метрик. Пустой адрес отключает метрики.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig конфигурация логирования.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"` // путь к файлу логов (пустой = stdout)
}

// Validate проверяет корректность конфигурации.
func (c *Config) Validate() error {
	var errs []error

	// Server
	if !validPort(c.Server.TCPPort) {
		errs = append(errs, fmt.Errorf("invalid server.tcp_port: %d", c.Server.TCPPort))
	}
	if !validPort(c.Server.UDPPort) {
		errs = append(errs, fmt.Errorf("invalid server.udp_port: %d", c.Server.UDPPort))
	}
	if c.Server.TCPPort == c.Server.UDPPort && c.Server.TCPPort != 0 {
		// Разные протоколы могут делить номер порта, но это почти всегда опечатка.
		errs = append(errs, fmt.Errorf("server.tcp_port and server.udp_port must differ"))
	}

	// Client
	if c.Client.ServerHost == "" {
		errs = append(errs, fmt.Errorf("client.server_host is required"))
	}
	if !validPort(c.Client.TCPPort) {
		errs = append(errs, fmt.Errorf("invalid client.tcp_port: %d", c.Client.TCPPort))
	}
	if !validPort(c.Client.UDPPort) {
		errs = append(errs, fmt.Errorf("invalid client.udp_port: %d", c.Client.UDPPort))
	}
	if _, err := c.Client.ParsedStrength(); err != nil {
		errs = append(errs, fmt.Errorf("client.strength: %w", err))
	}

	// Channel
	if c.Channel.BufferSize < 1 {
		errs = append(errs, fmt.Errorf("channel.buffer_size must be positive"))
	}
	if c.Channel.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("channel.heartbeat_interval must be positive"))
	}
	if c.Channel.MaxMissedHeartbeats < 1 {
		errs = append(errs, fmt.Errorf("channel.max_missed_heartbeats must be positive"))
	}
	if c.Channel.HandshakeAttempts < 1 {
		errs = append(errs, fmt.Errorf("channel.handshake_attempts must be positive"))
	}
	if c.Channel.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("channel.handshake_timeout must be positive"))
	}
	if c.Channel.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("channel.write_timeout must not be negative"))
	}
	if c.Channel.MaxFrameSize < 1 {
		errs = append(errs, fmt.Errorf("channel.max_frame_size must be positive"))
	}

	// Limits
	if c.Limits.MaxClients < 0 {
		errs = append(errs, fmt.Errorf("limits.max_clients must not be negative"))
	}
	if c.Limits.RateLimitPerSec < 0 {
		errs = append(errs, fmt.Errorf("limits.rate_limit_per_sec must not be negative"))
	}
	if c.Limits.RateLimitPerSec > 0 && c.Limits.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("limits.rate_limit_burst must be positive when rate limit is set"))
	}

	// Log
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			TCPPort: 7777,
			UDPPort: 7778,
		},
		Client: ClientConfig{
			ServerHost: "127.0.0.1",
			TCPPort:    7777,
			UDPPort:    7778,
			Strength:   protocol.Medium.String(),
		},
		Channel: ChannelConfig{
			BufferSize:          8192,
			HeartbeatInterval:   5 * time.Second,
			MaxMissedHeartbeats: 2,
			HandshakeAttempts:   3,
			HandshakeTimeout:    10 * time.Second,
			WriteTimeout:        30 * time.Second,
			MaxFrameSize:        protocol.DefaultMaxFrameSize,
		},
		Limits: LimitsConfig{
			MaxClients:      10000,
			RateLimitPerSec: 0,
			RateLimitBurst:  0,
		},
		NATS: NATSConfig{
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  -1,
			RequestTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
