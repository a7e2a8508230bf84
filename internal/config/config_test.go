package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	n, err := cfg.MaxFileSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(50<<20), n)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pdf-mcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
transport: http
addr: ":7000"
directories:
  - /srv/papers
max_file_size: 10 MB
allowed_origins:
  - https://app.example.com
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http", cfg.Transport)
	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, []string{"/srv/papers"}, cfg.Directories)
	assert.Equal(t, 64, cfg.CacheEntries)
	assert.Equal(t, "cwd", cfg.RelativePaths)
	n, err := cfg.MaxFileSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), n)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport: [oops"), 0644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.Directories = []string{"/from/file"}
	err := cfg.ApplyEnv(envMap(map[string]string{
		"PDF_MCP_TRANSPORT":       "http",
		"PDF_MCP_CACHE_ENTRIES":   "0",
		"PDF_MCP_RELATIVE_PATHS":  "roots",
		"PDF_MCP_ALLOWED_ORIGINS": "https://a.example, ,https://b.example",
		"PDF_MCP_DIRECTORIES":     "/a,/b",
		"PDF_MCP_JWT_SECRET":      "s3cret",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http", cfg.Transport)
	assert.Equal(t, 0, cfg.CacheEntries)
	assert.Equal(t, "roots", cfg.RelativePaths)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, []string{"/from/file", "/a", "/b"}, cfg.Directories)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, "stdio", Default().Transport)

	err = cfg.ApplyEnv(envMap(map[string]string{"PDF_MCP_CACHE_ENTRIES": "many"}))
	assert.ErrorContains(t, err, "PDF_MCP_CACHE_ENTRIES")
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"transport":     func(c *Config) { c.Transport = "carrier-pigeon" },
		"addr":          func(c *Config) { c.Addr = "not an addr" },
		"cache":         func(c *Config) { c.CacheEntries = -1 },
		"relative mode": func(c *Config) { c.RelativePaths = "home" },
		"convention":    func(c *Config) { c.Convention = "vms" },
		"log level":     func(c *Config) { c.LogLevel = "loud" },
		"origin":        func(c *Config) { c.AllowedOrigins = []string{"not a url"} },
		"size":          func(c *Config) { c.MaxFileSize = "huge" },
		"zero size":     func(c *Config) { c.MaxFileSize = "0" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestIgnoreFile(t *testing.T) {
	data, err := ReadIgnoreFile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultIgnoreContent, string(data))

	path := filepath.Join(t.TempDir(), "data", "pdf-ignore")
	data, err = ReadIgnoreFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultIgnoreContent, string(data))
	_, err = os.Stat(path)
	require.NoError(t, err, "missing ignore file is created")

	require.NoError(t, WriteIgnoreFile(path, []byte("drafts/\n")))
	data, err = ReadIgnoreFile(path)
	require.NoError(t, err)
	assert.Equal(t, "drafts/\n", string(data))
}
