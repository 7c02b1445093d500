package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/znplink/internal/link"
	"github.com/danmuck/znplink/internal/protocol/schema"
	"github.com/danmuck/znplink/internal/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Config is the znpctl runtime configuration.
type Config struct {
	Serial      SerialConfig
	Schema      schema.SelectConfig
	Link        LinkConfig
	Diagnostics DiagnosticsConfig
}

type SerialConfig struct {
	Port   string
	Baud   int
	RTSCTS bool
}

type LinkConfig struct {
	AttemptTimeout   time.Duration
	MaxAttempts      int
	ResultTimeout    time.Duration
	CommandTimeout   time.Duration
	MaxPending       int
	WriteQueue       int
	SubscriberBuffer int
}

type DiagnosticsConfig struct {
	Addr        string
	CorsOrigins []string
}

// config.toml key mapping. Durations are strings such as "2s".
type fileConfig struct {
	Serial struct {
		Port   string `toml:"port"`
		Baud   int    `toml:"baud"`
		RTSCTS bool   `toml:"rts_cts"`
	} `toml:"serial"`
	Schema struct {
		Version string `toml:"version"`
		File    string `toml:"file"`
	} `toml:"schema"`
	Link struct {
		AttemptTimeout   string `toml:"attempt_timeout"`
		MaxAttempts      int    `toml:"max_attempts"`
		ResultTimeout    string `toml:"result_timeout"`
		CommandTimeout   string `toml:"command_timeout"`
		MaxPending       int    `toml:"max_pending"`
		WriteQueue       int    `toml:"write_queue"`
		SubscriberBuffer int    `toml:"subscriber_buffer"`
	} `toml:"link"`
	Diagnostics struct {
		Addr        string   `toml:"addr"`
		CorsOrigins []string `toml:"cors_origins"`
	} `toml:"diagnostics"`
}

func Default() Config {
	lc := link.DefaultConfig()
	return Config{
		Serial: SerialConfig{Port: "/dev/ttyUSB0", Baud: transport.DefaultBaud},
		Schema: schema.SelectConfig{Version: schema.DefaultVersion},
		Link: LinkConfig{
			AttemptTimeout:   lc.Session.AttemptTimeout,
			MaxAttempts:      lc.Session.MaxAttempts,
			ResultTimeout:    lc.Session.ResultTimeout,
			CommandTimeout:   lc.CommandTimeout,
			MaxPending:       lc.Session.MaxPending,
			WriteQueue:       lc.Transport.WriteQueue,
			SubscriberBuffer: lc.SubscriberBuffer,
		},
		Diagnostics: DiagnosticsConfig{
			Addr:        ":9410",
			CorsOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Load overlays the keys present in path onto Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "load znpctl config")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		log.Warn().Msgf("config.Load path=%s unknown keys=%v", path, undecoded)
	}

	if meta.IsDefined("serial", "port") {
		cfg.Serial.Port = strings.TrimSpace(raw.Serial.Port)
	}
	if meta.IsDefined("serial", "baud") {
		cfg.Serial.Baud = raw.Serial.Baud
	}
	if meta.IsDefined("serial", "rts_cts") {
		cfg.Serial.RTSCTS = raw.Serial.RTSCTS
	}
	if meta.IsDefined("schema", "version") {
		cfg.Schema.Version = strings.TrimSpace(raw.Schema.Version)
	}
	if meta.IsDefined("schema", "file") {
		cfg.Schema.File = strings.TrimSpace(raw.Schema.File)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"attempt_timeout", raw.Link.AttemptTimeout, &cfg.Link.AttemptTimeout},
		{"result_timeout", raw.Link.ResultTimeout, &cfg.Link.ResultTimeout},
		{"command_timeout", raw.Link.CommandTimeout, &cfg.Link.CommandTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("link", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("load znpctl config: link.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("link", "max_attempts") {
		cfg.Link.MaxAttempts = raw.Link.MaxAttempts
	}
	if meta.IsDefined("link", "max_pending") {
		cfg.Link.MaxPending = raw.Link.MaxPending
	}
	if meta.IsDefined("link", "write_queue") {
		cfg.Link.WriteQueue = raw.Link.WriteQueue
	}
	if meta.IsDefined("link", "subscriber_buffer") {
		cfg.Link.SubscriberBuffer = raw.Link.SubscriberBuffer
	}
	if meta.IsDefined("diagnostics", "addr") {
		cfg.Diagnostics.Addr = strings.TrimSpace(raw.Diagnostics.Addr)
	}
	if meta.IsDefined("diagnostics", "cors_origins") {
		cfg.Diagnostics.CorsOrigins = raw.Diagnostics.CorsOrigins
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	log.Debug().Msgf("config.Load path=%s port=%s schema=%s%s", path, cfg.Serial.Port, cfg.Schema.Version, cfg.Schema.File)
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud)
	}
	if strings.TrimSpace(c.Schema.Version) == "" && strings.TrimSpace(c.Schema.File) == "" {
		return fmt.Errorf("schema.version or schema.file is required")
	}
	if c.Link.MaxAttempts < 1 {
		return fmt.Errorf("link.max_attempts must be at least 1, got %d", c.Link.MaxAttempts)
	}
	if c.Link.AttemptTimeout <= 0 || c.Link.ResultTimeout <= 0 || c.Link.CommandTimeout <= 0 {
		return fmt.Errorf("link timeouts must be positive")
	}
	if c.Link.MaxPending < 1 {
		return fmt.Errorf("link.max_pending must be at least 1, got %d", c.Link.MaxPending)
	}
	if c.Link.WriteQueue < 1 || c.Link.SubscriberBuffer < 1 {
		return fmt.Errorf("link.write_queue and link.subscriber_buffer must be at least 1")
	}
	return nil
}

// LinkConfig maps the file settings onto the engine configuration.
func (c Config) LinkConfig() link.Config {
	lc := link.DefaultConfig()
	lc.Session.AttemptTimeout = c.Link.AttemptTimeout
	lc.Session.MaxAttempts = c.Link.MaxAttempts
	lc.Session.ResultTimeout = c.Link.ResultTimeout
	lc.Session.MaxPending = c.Link.MaxPending
	lc.Transport.WriteQueue = c.Link.WriteQueue
	lc.CommandTimeout = c.Link.CommandTimeout
	lc.SubscriberBuffer = c.Link.SubscriberBuffer
	return lc
}

func (c Config) SerialConfig() transport.SerialConfig {
	return transport.SerialConfig{
		Port:   c.Serial.Port,
		Baud:   c.Serial.Baud,
		RTSCTS: c.Serial.RTSCTS,
	}
}
