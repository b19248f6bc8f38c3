package conf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type configKey struct{}

// A Duration is a time.Duration that reads and writes as a string like "1s".
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// bare numbers are milliseconds
		var ms int64
		if err := json.Unmarshal(b, &ms); err != nil {
			return fmt.Errorf("invalid duration %s", b)
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.parse(n.Value)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// AutosaveConfig holds options for the autosave client.
type AutosaveConfig struct {
	// ServerURL is the base url of the draft server.
	ServerURL string   `json:"ServerURL" yaml:"server_url"`
	Debounce  Duration `json:"Debounce" yaml:"debounce"`
	Timeout   Duration `json:"Timeout" yaml:"timeout"`
	// BackupDir is where local backups are kept.
	BackupDir string `json:"BackupDir" yaml:"backup_dir"`
	BackupCap int    `json:"BackupCap" yaml:"backup_cap"`
	// BackupQuota limits the bytes held in BackupDir; 0 is unlimited.
	BackupQuota   int64    `json:"BackupQuota" yaml:"backup_quota"`
	ProbeInterval Duration `json:"ProbeInterval" yaml:"probe_interval"`
}

// A Config holds options for the draft server and the autosave client.
type Config struct {
	Debug      bool   `json:"Debug" yaml:"debug"`
	ListenAddr string `json:"ListenAddr" yaml:"listen_addr"`
	LogLevel   string `json:"LogLevel" yaml:"log_level"`

	SessionSecret string `json:"SessionSecret" yaml:"session_secret"`

	// DatabaseURI is a connectable URI string
	DatabaseURI string `json:"DatabaseURI" yaml:"database_uri"`

	// TraceStdout exports trace spans to stdout.
	TraceStdout bool `json:"TraceStdout" yaml:"trace_stdout"`

	// DraftRetention is how long untouched drafts live before cleanup.
	DraftRetention Duration `json:"DraftRetention" yaml:"draft_retention"`

	Autosave AutosaveConfig `json:"Autosave" yaml:"autosave"`
}

// String returns the config as a string.
func (c *Config) String() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	err := enc.Encode(c)
	if err != nil {
		panic(err)
	}
	return buf.String()
}

// FromPath loads a config from path and merges it into c.  Files ending
// in .yaml or .yml are read as YAML, anything else as JSON.
func (c *Config) FromPath(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return c.FromYAML(f)
	}
	return c.FromReader(f)
}

// FromReader loads a JSON config from the reader r.
func (c *Config) FromReader(r io.Reader) error {
	return json.NewDecoder(r).Decode(c)
}

// FromYAML loads a YAML config from the reader r.
func (c *Config) FromYAML(r io.Reader) error {
	err := yaml.NewDecoder(r).Decode(c)
	if err == io.EOF {
		return nil
	}
	return err
}

// env overrides; DRAFTSAFE_ prefixed
var envVars = map[string]func(c *Config, v string) error{
	"LISTEN_ADDR":    func(c *Config, v string) error { c.ListenAddr = v; return nil },
	"LOG_LEVEL":      func(c *Config, v string) error { c.LogLevel = v; return nil },
	"SESSION_SECRET": func(c *Config, v string) error { c.SessionSecret = v; return nil },
	"DATABASE_URI":   func(c *Config, v string) error { c.DatabaseURI = v; return nil },
	"SERVER_URL":     func(c *Config, v string) error { c.Autosave.ServerURL = v; return nil },
	"BACKUP_DIR":     func(c *Config, v string) error { c.Autosave.BackupDir = v; return nil },
	"DEBUG": func(c *Config, v string) (err error) {
		c.Debug, err = strconv.ParseBool(v)
		return err
	},
	"DEBOUNCE": func(c *Config, v string) error { return c.Autosave.Debounce.parse(v) },
	"TIMEOUT":  func(c *Config, v string) error { return c.Autosave.Timeout.parse(v) },
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DRAFTSAFE_"

// FromEnv applies DRAFTSAFE_* environment overrides to c, after loading any
// of the given dotenv files that exist.  Variables already set in the
// environment win over dotenv files.
func (c *Config) FromEnv(dotenvs ...string) error {
	for _, f := range dotenvs {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	for name, set := range envVars {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			continue
		}
		if err := set(c, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
	}
	return nil
}

// AddConfigMiddleware adds this config to the request context.
func (c *Config) AddConfigMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(c.WithConfig(r.Context())))
	})
}

// WithConfig adds this config to the context. Get it back out with
// conf.ConfigFromContext(ctx).
func (c *Config) WithConfig(ctx context.Context) context.Context {
	return context.WithValue(ctx, configKey{}, c)
}

// ConfigFromContext returns the config embedded within the context, or
// the default config if there is none.
func ConfigFromContext(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	return Default()
}

// Default returns a sensible default config.
func Default() *Config {
	c := &Config{}
	c.ListenAddr = "0.0.0.0:7000"
	c.LogLevel = "info"
	c.SessionSecret = "SET-IN-CONFIG-FILE"
	c.DatabaseURI = "sqlite3://draftsafe.db"
	c.DraftRetention = Duration(30 * 24 * time.Hour)

	c.Autosave = AutosaveConfig{
		ServerURL:     "http://127.0.0.1:7000",
		Debounce:      Duration(time.Second),
		Timeout:       Duration(10 * time.Second),
		BackupDir:     defaultBackupDir(),
		BackupCap:     10,
		ProbeInterval: Duration(15 * time.Second),
	}
	return c
}

func defaultBackupDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "draftsafe", "backups")
	}
	return filepath.Join(dir, "draftsafe", "backups")
}
