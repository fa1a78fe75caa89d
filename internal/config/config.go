package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`

	// Media platform credentials. All three are required.
	LiveKitURL       string `mapstructure:"livekit_url"`
	LiveKitAPIKey    string `mapstructure:"livekit_api_key"`
	LiveKitAPISecret string `mapstructure:"livekit_api_secret"`

	// Base ws:// URL the platform egress uses to reach the relay.
	RelayPublicURL string `mapstructure:"relay_public_url"`

	// Transcription vendor.
	SpeechmaticsAPIKey string `mapstructure:"speechmatics_api_key"`
	SpeechmaticsURL    string `mapstructure:"speechmatics_url"`
	Language           string `mapstructure:"language"`

	// How long the platform keeps an empty room before reaping it.
	RoomEmptyTimeout time.Duration `mapstructure:"room_empty_timeout"`
	// Upper bound on an egress-start call.
	EgressStartTimeout time.Duration `mapstructure:"egress_start_timeout"`
}

// Load reads configuration from the environment. A local .env file is
// honored when present. Missing platform or vendor credentials are a
// startup failure, never a silent no-op.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8000)
	v.SetDefault("static_path", "./web")
	v.SetDefault("relay_public_url", "ws://localhost:8000")
	v.SetDefault("speechmatics_url", "wss://eu2.rt.speechmatics.com/v2")
	v.SetDefault("language", "en")
	v.SetDefault("room_empty_timeout", "10m")
	v.SetDefault("egress_start_timeout", "15s")

	for key, env := range map[string]string{
		"mode":                 "MODE",
		"port":                 "PORT",
		"static_path":          "STATIC_PATH",
		"livekit_url":          "LIVEKIT_URL",
		"livekit_api_key":      "LIVEKIT_API_KEY",
		"livekit_api_secret":   "LIVEKIT_API_SECRET",
		"relay_public_url":     "RELAY_PUBLIC_URL",
		"speechmatics_api_key": "SPEECHMATICS_API_KEY",
		"speechmatics_url":     "SPEECHMATICS_URL",
		"language":             "LANGUAGE",
		"room_empty_timeout":   "ROOM_EMPTY_TIMEOUT",
		"egress_start_timeout": "EGRESS_START_TIMEOUT",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	missing := ""
	switch {
	case c.LiveKitURL == "":
		missing = "LIVEKIT_URL"
	case c.LiveKitAPIKey == "":
		missing = "LIVEKIT_API_KEY"
	case c.LiveKitAPISecret == "":
		missing = "LIVEKIT_API_SECRET"
	case c.SpeechmaticsAPIKey == "":
		missing = "SPEECHMATICS_API_KEY"
	}
	if missing != "" {
		return fmt.Errorf("missing required environment variable %s", missing)
	}
	return nil
}
