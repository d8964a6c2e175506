// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the typed settings record for the daemon. Values are loaded
// from TOML, missing fields keep their defaults, and the file is created
// on first save.
type Config struct {
	PlayerName      string `koanf:"player_name"`
	HTTPPort        int    `koanf:"http_port"`
	ClientUUID      string `koanf:"client_uuid"`
	AudioOutput     string `koanf:"audio_output"` // "hdmi" or "analog"
	AutoPlay        bool   `koanf:"auto_play"`
	AllowHTTP       bool   `koanf:"allow_http"` // permit plain-http server URLs
	EnablePlayQueue bool   `koanf:"enable_play_queue"`
	LogLevel        string `koanf:"log_level"`
}

// Listener is notified after a setting changes and the file is saved.
type Listener func(name string, value any)

// Store couples a Config with its file path and change listeners.
// Mutation goes through the Set* methods so collaborators observing a
// setting (the command server, the timeline reporter) stay in sync.
type Store struct {
	mu        sync.Mutex
	path      string
	cfg       Config
	listeners []Listener
}

func defaults() Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "plexcast"
	}
	return Config{
		PlayerName:      hostname,
		HTTPPort:        3000,
		AudioOutput:     "hdmi",
		AutoPlay:        true,
		EnablePlayQueue: true,
		LogLevel:        "info",
	}
}

// DefaultPath returns the XDG location of the config file.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "plexcast", "config.toml")
}

// Load reads the config file at path, applying defaults for missing
// values. A missing file is not an error; a client identifier is
// generated and persisted on first load.
func Load(path string) (*Store, error) {
	s := &Store{path: path, cfg: defaults()}

	if _, err := os.Stat(path); err == nil {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if err := k.Unmarshal("", &s.cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if s.cfg.ClientUUID == "" {
		s.cfg.ClientUUID = uuid.NewString()
		if err := s.save(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// AddListener registers a callback for setting changes.
func (s *Store) AddListener(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SetAutoPlay updates the auto-play flag.
func (s *Store) SetAutoPlay(on bool) error {
	return s.set("auto_play", on, func(c *Config) { c.AutoPlay = on })
}

// SetPlayerName updates the advertised player name.
func (s *Store) SetPlayerName(name string) error {
	return s.set("player_name", name, func(c *Config) { c.PlayerName = name })
}

// SetAllowHTTP updates the plain-http permission flag.
func (s *Store) SetAllowHTTP(on bool) error {
	return s.set("allow_http", on, func(c *Config) { c.AllowHTTP = on })
}

func (s *Store) set(name string, value any, apply func(*Config)) error {
	s.mu.Lock()
	apply(&s.cfg)
	err := s.save()
	listeners := append([]Listener{}, s.listeners...)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	for _, fn := range listeners {
		fn(name, value)
	}
	return nil
}

// Save writes the current settings to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// save assumes s.mu is held.
func (s *Store) save() error {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(s.cfg, "koanf"), nil); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data, err := k.Marshal(toml.Parser())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", s.path, err)
	}
	return nil
}
