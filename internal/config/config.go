package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. PDF_MCP_TRANSPORT.
const EnvPrefix = "PDF_MCP_"

// Config is the server configuration. Precedence, lowest first: defaults,
// YAML file, environment, command-line flags.
type Config struct {
	Transport string `yaml:"transport" validate:"required,oneof=stdio http"`
	Addr      string `yaml:"addr" validate:"required,hostname_port"`
	// Directories are allowed directories in addition to the command-line arguments.
	Directories []string `yaml:"directories"`

	DBPath       string `yaml:"db_path"`
	IgnoreFile   string `yaml:"ignore_file"`
	MaxFileSize  string `yaml:"max_file_size" validate:"required"`
	CacheEntries int    `yaml:"cache_entries" validate:"gte=0"`

	RelativePaths string `yaml:"relative_paths" validate:"oneof=cwd roots"`
	Convention    string `yaml:"convention" validate:"oneof=auto posix posix-nocase windows"`

	LogLevel string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	LogFile  string `yaml:"log_file"`

	JWTSecret      string   `yaml:"jwt_secret"`
	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Transport:     "stdio",
		Addr:          "127.0.0.1:6688",
		MaxFileSize:   "50MiB",
		CacheEntries:  64,
		RelativePaths: "cwd",
		Convention:    "auto",
		LogLevel:      "info",
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv applies PDF_MCP_* overrides found through lookup (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"TRANSPORT":      &c.Transport,
		"ADDR":           &c.Addr,
		"DB_PATH":        &c.DBPath,
		"IGNORE_FILE":    &c.IgnoreFile,
		"MAX_FILE_SIZE":  &c.MaxFileSize,
		"RELATIVE_PATHS": &c.RelativePaths,
		"CONVENTION":     &c.Convention,
		"LOG_LEVEL":      &c.LogLevel,
		"LOG_FILE":       &c.LogFile,
		"JWT_SECRET":     &c.JWTSecret,
	}
	for name, dst := range str {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	if v, ok := lookup(EnvPrefix + "CACHE_ENTRIES"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sCACHE_ENTRIES: %w", EnvPrefix, err)
		}
		c.CacheEntries = n
	}
	if v, ok := lookup(EnvPrefix + "ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "DIRECTORIES"); ok {
		c.Directories = append(c.Directories, splitList(v)...)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that max_file_size parses.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.MaxFileSizeBytes(); err != nil {
		return err
	}
	return nil
}

// MaxFileSizeBytes parses MaxFileSize ("50MiB", "10 MB", "1048576").
func (c *Config) MaxFileSizeBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.MaxFileSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max_file_size %q: %w", c.MaxFileSize, err)
	}
	if n == 0 || n > 1<<40 {
		return 0, fmt.Errorf("invalid max_file_size %q: out of range", c.MaxFileSize)
	}
	return int64(n), nil
}
