package main

import (
	"bytes"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintUsageHint(t *testing.T) {
	var buf bytes.Buffer
	printUsageHint(&buf)

	out := buf.String()
	assert.Contains(t, out, "Usage: pdf-mcp [flags] [allowed-directory] [additional-directories...]")
	assert.Contains(t, out, "1. Command-line arguments")
	assert.Contains(t, out, "2. MCP roots protocol")
}

func TestLoadConfigAppliesOnlySetFlags(t *testing.T) {
	t.Setenv("PDF_MCP_LOG_LEVEL", "debug")
	t.Setenv("PDF_MCP_ADDR", "127.0.0.1:7000")

	opts := &options{}
	flags := pflag.NewFlagSet("pdf-mcp", pflag.ContinueOnError)
	applyFlags(flags, opts)
	require.NoError(t, flags.Parse([]string{"--transport", "http", "--cache-entries", "0"}))

	cfg, err := loadConfig(flags, opts)
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Transport)
	assert.Equal(t, 0, cfg.CacheEntries)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr, "unset flag keeps the env value")
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	opts := &options{}
	flags := pflag.NewFlagSet("pdf-mcp", pflag.ContinueOnError)
	applyFlags(flags, opts)
	require.NoError(t, flags.Parse([]string{"--transport", "carrier-pigeon"}))

	_, err := loadConfig(flags, opts)
	assert.Error(t, err)
}
