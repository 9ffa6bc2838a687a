package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/petervdpas/dialdesk/internal/signal"
	"github.com/petervdpas/dialdesk/internal/util"
)

type Config struct {
	Identity  Identity  `json:"identity"`
	Token     Token     `json:"token"`
	Device    Device    `json:"device"`
	Directory Directory `json:"directory"`
	Viewer    Viewer    `json:"viewer"`
}

type Identity struct {
	// Originating identity (phone number) used to fetch a token as soon as a
	// browser attaches. Empty means the agent connects explicitly.
	Default string `json:"default"`
}

type Token struct {
	// Base URL of the token issuing endpoint; tokens are fetched from
	// {base_url}/token/{identity}.
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Device is the fixed capability configuration handed to the signaling
// client on every setup.
type Device struct {
	Codecs                 []string `json:"codecs"`
	FakeLocalDTMF          bool     `json:"fake_local_dtmf"`
	EnableRingingState     bool     `json:"enable_ringing_state"`
	Debug                  bool     `json:"debug"`
	AllowIncomingWhileBusy bool     `json:"allow_incoming_while_busy"`
	Edges                  []string `json:"edges"`
}

type Directory struct {
	// SQLite lead database, relative to the config directory.
	DBPath string `json:"db_path"`

	// Optional JSON seed file with leads. Loaded on start; reloaded on change
	// when Watch is set.
	SeedFile string `json:"seed_file"`
	Watch    bool   `json:"watch"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`
	LogLines int    `json:"log_lines"`
}

func Default() Config {
	return Config{
		Token: Token{
			BaseURL:        "https://api.twillio-call.aivio.io",
			TimeoutSeconds: 10,
		},
		Device: Device{
			Codecs:                 []string{"pcmu", "opus"},
			FakeLocalDTMF:          true,
			EnableRingingState:     true,
			Debug:                  false,
			AllowIncomingWhileBusy: true,
			Edges:                  []string{"ashburn", "dublin", "singapore"},
		},
		Directory: Directory{
			DBPath: "data/leads.db",
			Watch:  true,
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:7780",
			LogLines: 800,
		},
	}
}

// SignalOptions converts the device section into the adapter's capability
// configuration.
func (c Config) SignalOptions() signal.Options {
	return signal.Options{
		Codecs:                 append([]string(nil), c.Device.Codecs...),
		FakeLocalDTMF:          c.Device.FakeLocalDTMF,
		EnableRingingState:     c.Device.EnableRingingState,
		Debug:                  c.Device.Debug,
		AllowIncomingWhileBusy: c.Device.AllowIncomingWhileBusy,
		Edges:                  append([]string(nil), c.Device.Edges...),
	}
}

func (c *Config) Validate() error {
	// Token
	if err := validateBaseURL(strings.TrimSpace(c.Token.BaseURL)); err != nil {
		return fmt.Errorf("token.base_url: %w", err)
	}
	if c.Token.TimeoutSeconds < 1 || c.Token.TimeoutSeconds > 120 {
		return errors.New("token.timeout_seconds must be 1..120")
	}

	// Device
	if err := c.SignalOptions().Validate(); err != nil {
		return fmt.Errorf("device: %w", err)
	}

	// Directory
	if strings.TrimSpace(c.Directory.DBPath) == "" {
		return errors.New("directory.db_path is required")
	}

	// Viewer
	if strings.TrimSpace(c.Viewer.HTTPAddr) == "" {
		return errors.New("viewer.http_addr is required")
	}
	if _, port, err := net.SplitHostPort(c.Viewer.HTTPAddr); err != nil || port == "" {
		return errors.New("viewer.http_addr must be host:port")
	}
	if c.Viewer.LogLines < 0 {
		return errors.New("viewer.log_lines must be >= 0")
	}

	// Identity
	// Client names are as valid as numbers; the value becomes one URL path
	// segment of the token request.
	if id := strings.TrimSpace(c.Identity.Default); id != "" {
		if strings.ContainsAny(id, "/ \t\r\n") {
			return errors.New("identity.default must not contain '/' or whitespace")
		}
	}

	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func Load(path string) (Config, error) {
	cfg, err := LoadPartial(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadPartial reads a config file without validation. Useful for reading
// individual fields when full validation may fail.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(util.StripBOM(b), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
