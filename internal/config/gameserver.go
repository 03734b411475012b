package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Chat backends.
const (
	ChatBackendMemory   = "memory"
	ChatBackendPostgres = "postgres"
)

// GameServer holds all configuration for the world server.
type GameServer struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	LogLevel string `yaml:"log_level"` // debug, info, warn, error

	// Simulation
	TickHz         int `yaml:"tick_hz"`
	MoveSpeed      int `yaml:"move_speed"`       // px per step
	PlayerHalfSize int `yaml:"player_half_size"` // px
	AOICellSize    int `yaml:"aoi_cell_size"`    // px
	AOIRadius      int `yaml:"aoi_radius"`       // chunks
	InputQueueSize int `yaml:"input_queue_size"`

	// Map
	MapPath string `yaml:"map_path"`
	MapID   string `yaml:"map_id"`

	// Persistence
	PersistInterval time.Duration `yaml:"persist_interval"`

	// Handshake
	AllowedOrigins []string      `yaml:"allowed_origins"`
	TicketTTL      time.Duration `yaml:"ticket_ttl"`

	// Throttling
	RateMovePerSecond int `yaml:"rate_move_per_second"`
	RateChatPerMinute int `yaml:"rate_chat_per_minute"`

	// Chat fan-out: memory or postgres
	ChatBackend string `yaml:"chat_backend"`

	// Write queue / timeouts
	WriteTimeout  time.Duration `yaml:"write_timeout"`   // per-write deadline
	ReadTimeout   time.Duration `yaml:"read_timeout"`    // idle client disconnect
	SendQueueSize int           `yaml:"send_queue_size"` // per-client outbox capacity

	// Database
	Database DatabaseConfig `yaml:"database"`
}

// DefaultGameServer returns GameServer config with sensible defaults.
func DefaultGameServer() GameServer {
	return GameServer{
		BindAddress:       "0.0.0.0",
		Port:              8000,
		LogLevel:          "info",
		TickHz:            10,
		MoveSpeed:         4,
		PlayerHalfSize:    10,
		AOICellSize:       16,
		AOIRadius:         1,
		InputQueueSize:    64,
		MapPath:           "assets/maps/zerion_start.json",
		MapID:             "zerion_start",
		PersistInterval:   5 * time.Second,
		AllowedOrigins:    []string{"http://localhost:3000", "http://localhost:8080"},
		TicketTTL:         60 * time.Second,
		RateMovePerSecond: 20,
		RateChatPerMinute: 20,
		ChatBackend:       ChatBackendPostgres,
		WriteTimeout:      5 * time.Second,
		ReadTimeout:       120 * time.Second,
		SendQueueSize:     256,
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "zerion",
			Password: "zerion",
			DBName:   "zerion",
			SSLMode:  "disable",
		},
	}
}

// LoadGameServer loads game server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadGameServer(path string) (GameServer, error) {
	cfg := DefaultGameServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports the first invalid setting.
func (c GameServer) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.TickHz <= 0 || c.TickHz > 1000 {
		errs = append(errs, fmt.Errorf("tick_hz %d out of range", c.TickHz))
	}
	if c.MoveSpeed <= 0 {
		errs = append(errs, fmt.Errorf("move_speed must be positive, got %d", c.MoveSpeed))
	}
	if c.PlayerHalfSize < 0 {
		errs = append(errs, fmt.Errorf("player_half_size must not be negative, got %d", c.PlayerHalfSize))
	}
	if c.AOICellSize <= 0 {
		errs = append(errs, fmt.Errorf("aoi_cell_size must be positive, got %d", c.AOICellSize))
	}
	if c.AOIRadius < 0 {
		errs = append(errs, fmt.Errorf("aoi_radius must not be negative, got %d", c.AOIRadius))
	}
	if c.PersistInterval <= 0 {
		errs = append(errs, fmt.Errorf("persist_interval must be positive, got %s", c.PersistInterval))
	}
	switch c.ChatBackend {
	case ChatBackendMemory, ChatBackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown chat_backend %q", c.ChatBackend))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c GameServer) Addr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}
