package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/jacksonlee411/college-attendance-desk/pkg/authz"
)

const (
	appDir     = "attendance-desk"
	envPrefix  = "ATTENDANCE_DESK_"
	dotEnvFile = ".env"
)

type Config struct {
	API        APIConfig        `yaml:"api"`
	Session    SessionConfig    `yaml:"session"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Authz      AuthzConfig      `yaml:"authz"`
	Log        LogConfig        `yaml:"log"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	CredentialsPath string        `yaml:"credentials_path"`
	CheckInterval   time.Duration `yaml:"check_interval"`
}

type AttendanceConfig struct {
	FilterDebounce   time.Duration `yaml:"filter_debounce"`
	AutoSaveDebounce time.Duration `yaml:"autosave_debounce"`
	BatchSize        int           `yaml:"batch_size"`
	AutoSave         bool          `yaml:"autosave"`
	ProgressTTL      time.Duration `yaml:"progress_ttl"`
}

type AuthzConfig struct {
	Mode       string `yaml:"mode"`
	ModelPath  string `yaml:"model_path"`
	PolicyPath string `yaml:"policy_path"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:5000",
			Timeout: 30 * time.Second,
		},
		Session: SessionConfig{
			CredentialsPath: filepath.Join(configHome(), appDir, "credentials.yaml"),
			CheckInterval:   60 * time.Second,
		},
		Attendance: AttendanceConfig{
			FilterDebounce:   300 * time.Millisecond,
			AutoSaveDebounce: 2 * time.Second,
			BatchSize:        10,
			AutoSave:         true,
			ProgressTTL:      2 * time.Second,
		},
		Authz: AuthzConfig{Mode: string(authz.ModeEnforce)},
		Log:   LogConfig{Level: "info"},
	}
}

func configHome() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return dir
	}
	return "."
}

// DefaultPath is where Load looks when no file is given.
func DefaultPath() string {
	return filepath.Join(configHome(), appDir, "config.yaml")
}

// Load builds the configuration from defaults, the YAML file at path, a .env
// file in the working directory and ATTENDANCE_DESK_* variables, in that
// order. An empty path uses DefaultPath and tolerates its absence.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := loadDotEnv(dotEnvFile); err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv loads path if it exists. Variables already set win.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return "", false
		}
		return strings.TrimSpace(v), true
	}
	setString := func(name string, dst *string) {
		if v, ok := get(name); ok && v != "" {
			*dst = v
		}
	}
	setDuration := func(name string, dst *time.Duration) error {
		v, ok := get(name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", envPrefix, name, err)
		}
		*dst = d
		return nil
	}
	setBool := func(name string, dst *bool) error {
		v, ok := get(name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", envPrefix, name, err)
		}
		*dst = b
		return nil
	}

	setString("API_BASE_URL", &c.API.BaseURL)
	setString("CREDENTIALS_PATH", &c.Session.CredentialsPath)
	setString("AUTHZ_MODE", &c.Authz.Mode)
	setString("AUTHZ_MODEL_PATH", &c.Authz.ModelPath)
	setString("AUTHZ_POLICY_PATH", &c.Authz.PolicyPath)
	setString("LOG_LEVEL", &c.Log.Level)

	for name, dst := range map[string]*time.Duration{
		"API_TIMEOUT":       &c.API.Timeout,
		"CHECK_INTERVAL":    &c.Session.CheckInterval,
		"FILTER_DEBOUNCE":   &c.Attendance.FilterDebounce,
		"AUTOSAVE_DEBOUNCE": &c.Attendance.AutoSaveDebounce,
		"PROGRESS_TTL":      &c.Attendance.ProgressTTL,
	} {
		if err := setDuration(name, dst); err != nil {
			return err
		}
	}
	if err := setBool("AUTOSAVE", &c.Attendance.AutoSave); err != nil {
		return err
	}
	if err := setBool("LOG_DEVELOPMENT", &c.Log.Development); err != nil {
		return err
	}
	if v, ok := get("BATCH_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sBATCH_SIZE: %w", envPrefix, err)
		}
		c.Attendance.BatchSize = n
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("config: api.base_url is required")
	}
	if strings.TrimSpace(c.Session.CredentialsPath) == "" {
		return errors.New("config: session.credentials_path is required")
	}
	for name, d := range map[string]time.Duration{
		"api.timeout":                  c.API.Timeout,
		"session.check_interval":       c.Session.CheckInterval,
		"attendance.filter_debounce":   c.Attendance.FilterDebounce,
		"attendance.autosave_debounce": c.Attendance.AutoSaveDebounce,
		"attendance.progress_ttl":      c.Attendance.ProgressTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}
	if c.Attendance.BatchSize <= 0 {
		return errors.New("config: attendance.batch_size must be positive")
	}
	if _, err := authz.ParseMode(c.Authz.Mode); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if (c.Authz.ModelPath == "") != (c.Authz.PolicyPath == "") {
		return errors.New("config: authz.model_path and authz.policy_path must be set together")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	return nil
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
