// Package config loads configuration for the go-caption commands.
//
// Values are layered: built-in defaults, then an optional YAML file, then an
// optional .env file, then process environment. Command-line flags are applied
// last by each command.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultEndpoint     = "http://localhost:5000"
	DefaultPeriodMs     = 2000
	DefaultPrompt       = "Describe what you see."
	DefaultIdealWidth   = 640
	DefaultIdealHeight  = 480
	DefaultFacing       = "user"
	DefaultClientListen = ":8080"

	DefaultServerListen  = ":5000"
	DefaultOllamaURL     = "http://localhost:11434/api/generate"
	DefaultModel         = "gemma3:4b"
	DefaultOllamaTimeout = 90 * time.Second
)

// Captioner configures the capture client.
type Captioner struct {
	// Endpoint is the base URL of the captioning service.
	Endpoint string `yaml:"endpoint"`

	// PeriodMs is the initial capture period. It is validated when the
	// session starts, not here, so that a bad value surfaces to the user.
	PeriodMs int    `yaml:"period_ms"`
	Prompt   string `yaml:"prompt"`

	// Camera source.
	Camera      int    `yaml:"camera"`  // Device index for the OpenCV backend
	Pattern     bool   `yaml:"pattern"` // Use the synthetic test pattern instead
	IdealWidth  int    `yaml:"ideal_width"`
	IdealHeight int    `yaml:"ideal_height"`
	Facing      string `yaml:"facing"`

	// Dashboard.
	Listen    string `yaml:"listen"`
	AutoStart bool   `yaml:"autostart"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`
}

// Server configures the caption service.
type Server struct {
	Listen    string        `yaml:"listen"`
	OllamaURL string        `yaml:"ollama_url"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`

	// DataDir holds saved_images/ and saved_captions/.
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
}

// File is the on-disk layout of a config file.
type File struct {
	Captioner Captioner `yaml:"captioner"`
	Server    Server    `yaml:"server"`
}

// DefaultCaptioner returns the client defaults.
func DefaultCaptioner() Captioner {
	return Captioner{
		Endpoint:       DefaultEndpoint,
		PeriodMs:       DefaultPeriodMs,
		Prompt:         DefaultPrompt,
		IdealWidth:     DefaultIdealWidth,
		IdealHeight:    DefaultIdealHeight,
		Facing:         DefaultFacing,
		Listen:         DefaultClientListen,
		RequestTimeout: 2 * time.Minute,
		LogLevel:       "info",
	}
}

// DefaultServer returns the caption service defaults.
func DefaultServer() Server {
	return Server{
		Listen:    DefaultServerListen,
		OllamaURL: DefaultOllamaURL,
		Model:     DefaultModel,
		Timeout:   DefaultOllamaTimeout,
		DataDir:   ".",
		LogLevel:  "info",
	}
}

// Load builds a File from defaults, the YAML file at path (if non-empty),
// any .env file in the working directory, and the environment.
func Load(path string) (*File, error) {
	f := &File{
		Captioner: DefaultCaptioner(),
		Server:    DefaultServer(),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}

	f.Captioner.ApplyEnv()
	f.Server.ApplyEnv()
	return f, nil
}

// LoadEnvFile loads KEY=VALUE pairs into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadEnvFile(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from CAPTION_* environment variables.
func (c *Captioner) ApplyEnv() {
	envString("CAPTION_ENDPOINT", &c.Endpoint)
	envInt("CAPTION_PERIOD_MS", &c.PeriodMs)
	envString("CAPTION_PROMPT", &c.Prompt)
	envInt("CAPTION_CAMERA", &c.Camera)
	envBool("CAPTION_PATTERN", &c.Pattern)
	envString("CAPTION_LISTEN", &c.Listen)
	envBool("CAPTION_AUTOSTART", &c.AutoStart)
	envDuration("CAPTION_REQUEST_TIMEOUT", &c.RequestTimeout)
	envString("CAPTION_LOG_LEVEL", &c.LogLevel)
}

// ApplyEnv overrides fields from OLLAMA_* and CAPTION_SERVER_* variables.
func (s *Server) ApplyEnv() {
	envString("CAPTION_SERVER_LISTEN", &s.Listen)
	envString("OLLAMA_API_URL", &s.OllamaURL)
	envString("OLLAMA_MODEL", &s.Model)
	envDuration("OLLAMA_TIMEOUT", &s.Timeout)
	envString("CAPTION_DATA_DIR", &s.DataDir)
	envString("CAPTION_LOG_LEVEL", &s.LogLevel)
}

// Validate checks the client configuration.
func (c *Captioner) Validate() error {
	if err := validateURL("endpoint", c.Endpoint); err != nil {
		return err
	}
	if c.IdealWidth <= 0 || c.IdealHeight <= 0 {
		return &Error{Field: "ideal_width/ideal_height", Message: "ideal resolution must be positive"}
	}
	if c.Listen == "" {
		return &Error{Field: "listen", Message: "dashboard listen address is required"}
	}
	return nil
}

// Validate checks the caption service configuration.
func (s *Server) Validate() error {
	if s.Listen == "" {
		return &Error{Field: "listen", Message: "listen address is required"}
	}
	if err := validateURL("ollama_url", s.OllamaURL); err != nil {
		return err
	}
	if s.Model == "" {
		return &Error{Field: "model", Message: "model is required"}
	}
	if s.Timeout <= 0 {
		return &Error{Field: "timeout", Message: "timeout must be positive"}
	}
	return nil
}

// ImagesDir is where received frames are saved.
func (s *Server) ImagesDir() string {
	return filepath.Join(s.DataDir, "saved_images")
}

// HistoryPath is the caption history file.
func (s *Server) HistoryPath() string {
	return filepath.Join(s.DataDir, "saved_captions", "caption_history.txt")
}

// Error represents a configuration validation error.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}

func validateURL(field, raw string) error {
	if raw == "" {
		return &Error{Field: field, Message: "URL is required"}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &Error{Field: field, Message: fmt.Sprintf("invalid URL %q", raw)}
	}
	return nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
