package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
	"github.com/bryanchriswhite/RegionPiP/internal/logger"
	"github.com/bryanchriswhite/RegionPiP/internal/settings"
	"gopkg.in/yaml.v3"
)

// TargetIdentity names the application whose windows may be captured.
// It is compared case-insensitively against the WM_CLASS class and instance.
type TargetIdentity string

// Matches reports whether a window with the given WM_CLASS belongs to the target
func (t TargetIdentity) Matches(class, instance string) bool {
	id := strings.TrimSpace(string(t))
	if id == "" {
		return false
	}
	return strings.EqualFold(id, class) || strings.EqualFold(id, instance)
}

// IsZero reports whether no target is configured
func (t TargetIdentity) IsZero() bool {
	return strings.TrimSpace(string(t)) == ""
}

// Application represents a running application and its windows
type Application struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	WindowClass string       `json:"window_class"`
	PID         int          `json:"pid"`
	Windows     []WindowInfo `json:"windows"`
}

// WindowInfo represents information about a top-level window
type WindowInfo struct {
	ID       uint32        `json:"id"`
	Title    string        `json:"title"`
	Class    string        `json:"class"`
	Instance string        `json:"instance"`
	PID      int           `json:"pid"`
	Frame    geometry.Rect `json:"frame"`  // root coordinates, logical points
	ZOrder   int           `json:"z_order"` // higher is closer to the viewer
	Viewable bool          `json:"viewable"`
}

// SelectionConfig tunes the region selection overlay
type SelectionConfig struct {
	DimAlpha    float64 `json:"dim_alpha" yaml:"dim_alpha"`
	BorderWidth int     `json:"border_width" yaml:"border_width"`
}

// Config represents the application configuration
type Config struct {
	ServerPort   int                        `json:"server_port" yaml:"server_port"`
	LogLevel     string                     `json:"log_level" yaml:"log_level"`
	Target       TargetIdentity             `json:"target" yaml:"target"`
	ScaleFactor  float64                    `json:"scale_factor" yaml:"scale_factor"` // 0 = detect from Xft.dpi
	Selection    SelectionConfig            `json:"selection" yaml:"selection"`
	Presentation settings.PresentationState `json:"presentation" yaml:"presentation"`
}

// ErrUnknownKey is returned by SetValue/GetValue for keys that do not exist
var ErrUnknownKey = errors.New("unknown config key")

// Keys lists the dotted keys accepted by SetValue and GetValue
var Keys = []string{
	"server_port",
	"log_level",
	"target",
	"scale_factor",
	"selection.dim_alpha",
	"selection.border_width",
	"presentation.opacity",
	"presentation.always_on_top",
	"presentation.frame_rate",
	"presentation.show_cursor",
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns ~/.config/regionpip/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "regionpip", "config.yaml"), nil
}

// NewManager creates a new configuration manager. An empty configFile selects
// the default path. A missing file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	cfg, err := m.read()
	switch {
	case err == nil:
		m.config = cfg
	case os.IsNotExist(err):
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("target", string(m.config.Target)).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Selection: SelectionConfig{
			DimAlpha:    0.45,
			BorderWidth: 2,
		},
		Presentation: settings.Defaults(),
	}
}

// read parses the file on disk, filling anything missing from the defaults
func (m *Manager) read() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	def := Defaults()
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		c.ServerPort = def.ServerPort
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.ScaleFactor < 0 {
		c.ScaleFactor = 0
	}
	if c.Selection.DimAlpha <= 0 || c.Selection.DimAlpha > 1 {
		c.Selection.DimAlpha = def.Selection.DimAlpha
	}
	if c.Selection.BorderWidth <= 0 {
		c.Selection.BorderWidth = def.Selection.BorderWidth
	}
	c.Presentation = c.Presentation.Normalized()
}

// Get returns a copy of the configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	c := *cfg
	c.normalize()
	m.mu.Lock()
	m.config = &c
	m.mu.Unlock()
	return m.Save()
}

// Reload re-reads the file. It returns the new configuration and whether it
// differs from the one held in memory.
func (m *Manager) Reload() (*Config, bool, error) {
	cfg, err := m.read()
	if err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	changed := m.config == nil || *m.config != *cfg
	m.config = cfg
	m.mu.Unlock()

	out := *cfg
	return &out, changed, nil
}

func (m *Manager) mutate(fn func(c *Config)) error {
	m.mu.Lock()
	if m.config == nil {
		m.config = Defaults()
	}
	fn(m.config)
	m.config.normalize()
	m.mu.Unlock()
	return m.Save()
}

// SetPort sets the control surface port
func (m *Manager) SetPort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	return m.mutate(func(c *Config) { c.ServerPort = port })
}

// GetPort gets the control surface port
func (m *Manager) GetPort() int {
	return m.Get().ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	return m.mutate(func(c *Config) { c.LogLevel = level })
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	return m.Get().LogLevel
}

// SetTarget sets the target application identity
func (m *Manager) SetTarget(target TargetIdentity) error {
	return m.mutate(func(c *Config) { c.Target = TargetIdentity(strings.TrimSpace(string(target))) })
}

// GetTarget gets the target application identity
func (m *Manager) GetTarget() TargetIdentity {
	return m.Get().Target
}

// SetScaleFactor sets the backing scale factor; 0 means auto-detect
func (m *Manager) SetScaleFactor(f float64) error {
	if f < 0 {
		return fmt.Errorf("invalid scale factor %v", f)
	}
	return m.mutate(func(c *Config) { c.ScaleFactor = f })
}

// GetScaleFactor gets the configured scale factor
func (m *Manager) GetScaleFactor() float64 {
	return m.Get().ScaleFactor
}

// SetPresentation stores the presentation settings
func (m *Manager) SetPresentation(p settings.PresentationState) error {
	return m.mutate(func(c *Config) { c.Presentation = p })
}

// GetPresentation gets the presentation settings
func (m *Manager) GetPresentation() settings.PresentationState {
	return m.Get().Presentation
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

// GetValue returns the value of a dotted key as a string
func (m *Manager) GetValue(key string) (string, error) {
	c := m.Get()
	switch key {
	case "server_port":
		return strconv.Itoa(c.ServerPort), nil
	case "log_level":
		return c.LogLevel, nil
	case "target":
		return string(c.Target), nil
	case "scale_factor":
		return strconv.FormatFloat(c.ScaleFactor, 'g', -1, 64), nil
	case "selection.dim_alpha":
		return strconv.FormatFloat(c.Selection.DimAlpha, 'g', -1, 64), nil
	case "selection.border_width":
		return strconv.Itoa(c.Selection.BorderWidth), nil
	case "presentation.opacity":
		return strconv.FormatFloat(c.Presentation.Opacity, 'g', -1, 64), nil
	case "presentation.always_on_top":
		return strconv.FormatBool(c.Presentation.AlwaysOnTop), nil
	case "presentation.frame_rate":
		return strconv.Itoa(c.Presentation.FrameRate), nil
	case "presentation.show_cursor":
		return strconv.FormatBool(c.Presentation.ShowCursor), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
}

// SetValue parses value for a dotted key and saves the result
func (m *Manager) SetValue(key, value string) error {
	switch key {
	case "server_port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("server_port: %w", err)
		}
		return m.SetPort(n)
	case "log_level":
		return m.SetLogLevel(value)
	case "target":
		return m.SetTarget(TargetIdentity(value))
	case "scale_factor":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("scale_factor: %w", err)
		}
		return m.SetScaleFactor(f)
	case "selection.dim_alpha":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f <= 0 || f > 1 {
			return fmt.Errorf("selection.dim_alpha must be in (0, 1]")
		}
		return m.mutate(func(c *Config) { c.Selection.DimAlpha = f })
	case "selection.border_width":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("selection.border_width must be a positive integer")
		}
		return m.mutate(func(c *Config) { c.Selection.BorderWidth = n })
	case "presentation.opacity":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("presentation.opacity: %w", err)
		}
		return m.mutate(func(c *Config) { c.Presentation.Opacity = settings.ClampOpacity(f) })
	case "presentation.always_on_top":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("presentation.always_on_top: %w", err)
		}
		return m.mutate(func(c *Config) { c.Presentation.AlwaysOnTop = b })
	case "presentation.frame_rate":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("presentation.frame_rate: %w", err)
		}
		if err := settings.ValidateFrameRate(n); err != nil {
			return err
		}
		return m.mutate(func(c *Config) { c.Presentation.FrameRate = n })
	case "presentation.show_cursor":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("presentation.show_cursor: %w", err)
		}
		return m.mutate(func(c *Config) { c.Presentation.ShowCursor = b })
	}
	return fmt.Errorf("%w: %s", ErrUnknownKey, key)
}
