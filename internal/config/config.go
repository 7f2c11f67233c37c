package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig carries the server settings, all sourced from the environment.
type AppConfig struct {
	GameAddr   string
	ChatAddr   string
	WSAddr     string // optional WebSocket gateway, disabled when empty
	StatusAddr string // optional status endpoint, disabled when empty

	// TimeControlSeconds is the per-side clock budget for every game.
	TimeControlSeconds int
	InactivityTimeout  time.Duration
	GameGracePeriod    time.Duration
	SweepInterval      time.Duration

	RedisURL    string
	DatabaseURL string

	MsgOverrideDir string
}

// Load reads the environment, applying defaults. Explicitly set but
// unparsable values are an error rather than silently ignored.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		GameAddr:           ":5555",
		ChatAddr:           ":5556",
		TimeControlSeconds: 600,
		InactivityTimeout:  15 * time.Minute,
		GameGracePeriod:    60 * time.Second,
		SweepInterval:      time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("GAME_ADDR")); v != "" {
		cfg.GameAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("CHAT_ADDR")); v != "" {
		cfg.ChatAddr = v
	}
	cfg.WSAddr = strings.TrimSpace(os.Getenv("WS_ADDR"))
	cfg.StatusAddr = strings.TrimSpace(os.Getenv("STATUS_ADDR"))

	if v := strings.TrimSpace(os.Getenv("TIME_CONTROL_SECONDS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("TIME_CONTROL_SECONDS must be a positive integer, got %q", v)
		}
		cfg.TimeControlSeconds = n
	}
	var err error
	if cfg.InactivityTimeout, err = durationEnv("INACTIVITY_TIMEOUT", cfg.InactivityTimeout); err != nil {
		return nil, err
	}
	if cfg.GameGracePeriod, err = durationEnv("GAME_GRACE_PERIOD", cfg.GameGracePeriod); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return nil, err
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MsgOverrideDir = strings.TrimSpace(os.Getenv("MSG_OVERRIDE_DIR"))

	return cfg, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}
