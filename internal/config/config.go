package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"epdframe/internal/battery"
	"epdframe/internal/octcolor"
)

// SPIConfig selects the bus the panel sits on.
type SPIConfig struct {
	// Port is an spireg name such as "/dev/spidev0.0". Empty picks the first
	// registered port.
	Port string `yaml:"port" json:"port"`
	// SpeedHz is the SPI clock. 0 uses the driver default (4MHz).
	SpeedHz int64 `yaml:"speed_hz" json:"speed_hz"`
	// NoCS drives chip-select as a plain GPIO instead of the port's CS line.
	NoCS bool `yaml:"no_cs" json:"no_cs"`
}

// PinsConfig names the control lines as understood by gpioreg.
type PinsConfig struct {
	CS   string `yaml:"cs" json:"cs"`
	DC   string `yaml:"dc" json:"dc"`
	RST  string `yaml:"rst" json:"rst"`
	Busy string `yaml:"busy" json:"busy"`
}

// SourceConfig is what a scheduled refresh shows. URL wins over Image.
type SourceConfig struct {
	// Image is a local PNG/JPEG/GIF/BMP/WebP file.
	Image string `yaml:"image,omitempty" json:"image,omitempty"`
	// URL is captured with headless Chromium at panel resolution.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
}

// Empty reports whether no source is configured.
func (s SourceConfig) Empty() bool {
	return s.Image == "" && s.URL == ""
}

// BatteryConfig enables the PiSugar battery gauge.
type BatteryConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Bus is an i2creg name; empty picks the first bus.
	Bus  string `yaml:"bus,omitempty" json:"bus,omitempty"`
	Addr uint16 `yaml:"addr,omitempty" json:"addr,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFormat is "console" or "json".
	LogFormat string `yaml:"log_format" json:"log_format"`

	SPI  SPIConfig  `yaml:"spi" json:"spi"`
	Pins PinsConfig `yaml:"pins" json:"pins"`

	// BusyTimeout bounds every wait on the busy line. 0 waits forever.
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout"`

	// Background is the clear color.
	Background octcolor.OctColor `yaml:"background" json:"background"`

	// Dither enables Floyd-Steinberg error diffusion when rendering.
	Dither bool `yaml:"dither" json:"dither"`
	// Scale is "fill" (crop) or "fit" (letterbox).
	Scale string `yaml:"scale" json:"scale"`
	// Rotate turns portrait sources to landscape.
	Rotate bool `yaml:"rotate" json:"rotate"`

	// RefreshCron is a standard five-field cron spec (e.g. "0 */2 * * *")
	// for re-rendering Source. Empty disables scheduled refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Source SourceConfig `yaml:"source" json:"source"`

	// PreviewPath, if set, receives a PNG of every frame sent to the panel.
	PreviewPath string `yaml:"preview_path,omitempty" json:"preview_path,omitempty"`

	Battery BatteryConfig `yaml:"battery" json:"battery"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration for the
// Waveshare HAT on a Raspberry Pi.
func DefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:8080",
		LogLevel:  "info",
		LogFormat: "console",
		Pins: PinsConfig{
			CS:   "GPIO8",
			DC:   "GPIO25",
			RST:  "GPIO17",
			Busy: "GPIO24",
		},
		BusyTimeout: time.Minute,
		Background:  octcolor.White,
		Dither:      true,
		Scale:       "fill",
		Rotate:      true,
		RefreshCron: "0 */6 * * *",
		Battery:     BatteryConfig{Addr: battery.DefaultAddr},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.Pins.CS == "" {
		c.Pins.CS = d.Pins.CS
	}
	if c.Pins.DC == "" {
		c.Pins.DC = d.Pins.DC
	}
	if c.Pins.RST == "" {
		c.Pins.RST = d.Pins.RST
	}
	if c.Pins.Busy == "" {
		c.Pins.Busy = d.Pins.Busy
	}
	if c.BusyTimeout < 0 {
		c.BusyTimeout = 0
	}
	switch c.Scale {
	case "fill", "fit":
		// ok
	default:
		c.Scale = d.Scale
	}
	if c.Battery.Addr == 0 {
		c.Battery.Addr = battery.DefaultAddr
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Validate reports settings that would fail later at runtime.
func (c *Config) Validate() error {
	if c.RefreshCron != "" {
		if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
			return fmt.Errorf("config: invalid refresh schedule %q: %w", c.RefreshCron, err)
		}
	}
	if c.Background > octcolor.HiZ {
		return fmt.Errorf("config: invalid background %v", c.Background)
	}
	if c.SPI.SpeedHz < 0 {
		return fmt.Errorf("config: invalid spi speed %d", c.SPI.SpeedHz)
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := Config{Background: octcolor.White}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".epdframe-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
