package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// ClientConfig drives spacectl, the terminal client for a live space.
type ClientConfig struct {
	ServerURL    string
	AccessToken  string
	Space        string
	InviteCode   string
	ProbeAddr    string
	PollInterval time.Duration
	ProbeTimeout time.Duration
	NetworkType  string
	Presence     bool
	LogLevel     string
}

// DefaultClientConfig reads SPACECTL_* variables (and .env) for defaults.
func DefaultClientConfig() *ClientConfig {
	_ = godotenv.Load()

	return &ClientConfig{
		ServerURL:    getEnv("SPACECTL_SERVER", "http://localhost:8080"),
		AccessToken:  getEnv("SPACECTL_TOKEN", ""),
		InviteCode:   getEnv("SPACECTL_INVITE_CODE", ""),
		ProbeAddr:    getEnv("SPACECTL_PROBE_ADDR", "1.1.1.1:443"),
		PollInterval: getEnvAsDuration("SPACECTL_POLL_INTERVAL", 5*time.Second),
		ProbeTimeout: getEnvAsDuration("SPACECTL_PROBE_TIMEOUT", 3*time.Second),
		NetworkType:  getEnv("SPACECTL_NETWORK_TYPE", "auto"),
		Presence:     getEnvAsBool("SPACECTL_PRESENCE", true),
		LogLevel:     getEnv("SPACECTL_LOG_LEVEL", "info,console"),
	}
}

func (c *ClientConfig) AddFlags(fs *pflag.FlagSet) *ClientConfig {
	fs.StringVarP(&c.ServerURL, "server", "s", c.ServerURL, "spaces API base URL")
	fs.StringVarP(&c.AccessToken, "token", "t", c.AccessToken, "bearer token from the auth provider")
	fs.StringVar(&c.Space, "space", c.Space, "space id or room code to join")
	fs.StringVar(&c.InviteCode, "invite-code", c.InviteCode, "invite code for invite-only spaces")
	fs.StringVar(&c.ProbeAddr, "probe-addr", c.ProbeAddr, "host:port dialed to detect connectivity")
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "network probe interval")
	fs.DurationVar(&c.ProbeTimeout, "probe-timeout", c.ProbeTimeout, "network probe dial timeout")
	fs.StringVar(&c.NetworkType, "network-type", c.NetworkType, "auto, wifi or cellular")
	fs.BoolVar(&c.Presence, "presence", c.Presence, "subscribe to the presence roster")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level, append ',console' for text output")
	return c
}

func (c *ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server URL must be set")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("access token must be set")
	}
	if strings.TrimSpace(c.Space) == "" {
		return fmt.Errorf("space must be set")
	}
	switch c.NetworkType {
	case "auto", "wifi", "cellular":
	default:
		return fmt.Errorf("unknown network type %q", c.NetworkType)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	return nil
}
