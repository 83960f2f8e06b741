package main

import (
	"fmt"
	"time"
)

const (
	membershipBadger = "badger"
	membershipRedis  = "redis"
)

type Config struct {
	LogLevel            string        `env:"LOG_LEVEL,default=INFO"`
	HTTPAddr            string        `env:"HTTP_ADDR,default=:8080"`
	BadgerFilepath      string        `env:"BADGER_FILEPATH,required=true"`
	JWTSecret           string        `env:"JWT_SECRET,required=true"`
	JWTIssuer           string        `env:"JWT_ISSUER,default=chat-relay"`
	MembershipBackend   string        `env:"MEMBERSHIP_BACKEND,default=badger"`
	RedisURL            string        `env:"REDIS_URL"`
	CensoredDir         string        `env:"CENSORED_DIR"`
	CharReplacement     string        `env:"CHARACTER_REPLACEMENT,default=*"`
	MaxTextLength       int           `env:"MAX_TEXT_LENGTH,default=4000"`
	BodyLimit           int           `env:"BODY_LIMIT,default=15728640"`
	AllowedOrigins      string        `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	LiveQueueSize       int           `env:"LIVE_QUEUE_SIZE,default=256"`
	LiveEventsPerSecond float64       `env:"LIVE_EVENTS_PER_SECOND,default=20"`
	LiveBurst           int           `env:"LIVE_BURST,default=40"`
	LiveReadLimit       int64         `env:"LIVE_READ_LIMIT,default=16777216"`
	PingInterval        time.Duration `env:"PING_INTERVAL,default=25s"`
	PongWait            time.Duration `env:"PONG_WAIT,default=60s"`
	WriteTimeout        time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	StatsInterval       time.Duration `env:"STATS_INTERVAL,default=10s"`
	RestartInterval     time.Duration `env:"RESTART_INTERVAL,default=1s"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

func (c Config) Validate() error {
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters long")
	}
	switch c.MembershipBackend {
	case membershipBadger:
	case membershipRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when MEMBERSHIP_BACKEND=%s", membershipRedis)
		}
	default:
		return fmt.Errorf("MEMBERSHIP_BACKEND must be %q or %q, got %q", membershipBadger, membershipRedis, c.MembershipBackend)
	}
	if c.PongWait <= c.PingInterval {
		return fmt.Errorf("PONG_WAIT (%s) must be longer than PING_INTERVAL (%s)", c.PongWait, c.PingInterval)
	}
	return nil
}

func (c Config) CharacterRune() (rune, error) {
	r := []rune(c.CharReplacement)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			c.CharReplacement,
		)
	}
	return r[0], nil
}
