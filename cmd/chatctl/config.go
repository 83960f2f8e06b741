package main

import (
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is read from CHATCTL_* variables.
type Config struct {
	BaseURL   string        `envconfig:"BASE_URL" default:"http://localhost:8080"`
	LiveURL   string        `envconfig:"LIVE_URL"`
	Token     string        `envconfig:"TOKEN"`
	Project   string        `envconfig:"PROJECT"`
	Name      string        `envconfig:"NAME"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"10s"`
	JWTSecret string        `envconfig:"JWT_SECRET"`
	JWTIssuer string        `envconfig:"JWT_ISSUER" default:"chat-relay"`
	// CHATCTL_COLOURS enables colorized output
	Colours bool `envconfig:"COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("chatctl", &cfg)
	return cfg, err
}

// LiveEndpoint is CHATCTL_LIVE_URL, or the /ws endpoint next to the REST base url.
func (c Config) LiveEndpoint() (string, error) {
	if c.LiveURL != "" {
		return c.LiveURL, nil
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	switch base.Scheme {
	case "https":
		base.Scheme = "wss"
	default:
		base.Scheme = "ws"
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/ws"
	return base.String(), nil
}
