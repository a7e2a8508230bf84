package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/qiuxsgit/pdf-mcp/internal/config"
	"github.com/qiuxsgit/pdf-mcp/internal/db"
	"github.com/qiuxsgit/pdf-mcp/internal/logging"
	"github.com/qiuxsgit/pdf-mcp/internal/mcp"
	"github.com/qiuxsgit/pdf-mcp/internal/pdf"
	"github.com/qiuxsgit/pdf-mcp/internal/security"
	"github.com/qiuxsgit/pdf-mcp/internal/server"
	"github.com/qiuxsgit/pdf-mcp/internal/transport"
)

const (
	appName = "pdf-mcp"
	version = "0.3.0"
)

// options holds command-line overrides. Only flags the user set are applied
// over the config file and environment.
type options struct {
	ConfigPath     string
	Transport      string
	Addr           string
	DBPath         string
	IgnoreFile     string
	MaxFileSize    string
	CacheEntries   int
	RelativePaths  string
	Convention     string
	LogLevel       string
	LogFile        string
	AllowedOrigins []string
}

func main() {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   appName + " [allowed-directory...]",
		Short: "MCP server that extracts text from PDF files inside allowed directories",
		Long: "pdf-mcp serves the extract_pdf_text, list_allowed_directories and find_pdf_files tools.\n" +
			"Allowed directories can be provided via:\n" +
			"  1. Command-line arguments\n" +
			"  2. MCP roots protocol (the client's roots replace them when provided)",
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.Flags(), opts, args, cmd.ErrOrStderr())
		},
	}
	applyFlags(rootCmd.Flags(), opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func applyFlags(flags *pflag.FlagSet, opts *options) {
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	flags.StringVar(&opts.Transport, "transport", "", "Transport (stdio|http)")
	flags.StringVar(&opts.Addr, "addr", "", "Listen address for the http transport")
	flags.StringVar(&opts.DBPath, "db-path", "", "SQLite journal path (empty disables the journal)")
	flags.StringVar(&opts.IgnoreFile, "ignore-file-path", "", "Path to gitignore-format ignore file for find_pdf_files")
	flags.StringVar(&opts.MaxFileSize, "max-file-size", "", "Largest PDF that will be read, e.g. 50MiB")
	flags.IntVar(&opts.CacheEntries, "cache-entries", 0, "Number of extracted documents kept in memory (0 disables)")
	flags.StringVar(&opts.RelativePaths, "relative-paths", "", "Base for relative paths (cwd|roots)")
	flags.StringVar(&opts.Convention, "convention", "", "Path convention (auto|posix|posix-nocase|windows)")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level (trace|debug|info|warn|error)")
	flags.StringVar(&opts.LogFile, "log-file", "", "Write logs to a file instead of stderr")
	flags.StringSliceVar(&opts.AllowedOrigins, "allowed-origin", nil, "Origin allowed to open the websocket (repeatable)")
}

// loadConfig layers the config file, PDF_MCP_* variables and set flags.
func loadConfig(flags *pflag.FlagSet, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	str := map[string]struct {
		dst *string
		val string
	}{
		"transport":        {&cfg.Transport, opts.Transport},
		"addr":             {&cfg.Addr, opts.Addr},
		"db-path":          {&cfg.DBPath, opts.DBPath},
		"ignore-file-path": {&cfg.IgnoreFile, opts.IgnoreFile},
		"max-file-size":    {&cfg.MaxFileSize, opts.MaxFileSize},
		"relative-paths":   {&cfg.RelativePaths, opts.RelativePaths},
		"convention":       {&cfg.Convention, opts.Convention},
		"log-level":        {&cfg.LogLevel, opts.LogLevel},
		"log-file":         {&cfg.LogFile, opts.LogFile},
	}
	for name, f := range str {
		if flags.Changed(name) {
			*f.dst = f.val
		}
	}
	if flags.Changed("cache-entries") {
		cfg.CacheEntries = opts.CacheEntries
	}
	if flags.Changed("allowed-origin") {
		cfg.AllowedOrigins = opts.AllowedOrigins
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, flags *pflag.FlagSet, opts *options, args []string, stderr io.Writer) error {
	cfg, err := loadConfig(flags, opts)
	if err != nil {
		return err
	}
	logger, closeLog, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer closeLog()

	conv, err := security.ParseConvention(cfg.Convention)
	if err != nil {
		return err
	}
	relMode, err := security.ParseRelativeMode(cfg.RelativePaths)
	if err != nil {
		return err
	}
	maxSize, _ := cfg.MaxFileSizeBytes()

	journal, err := openJournal(cfg.DBPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	sb := security.NewSandbox(nil, security.Options{
		Convention:   conv,
		RelativeMode: relMode,
		Logger:       logger.With().Str("component", "security").Logger(),
		OnRootsReplaced: func(source string, dirs []string) {
			if err := journal.RecordRootEvent(context.Background(), db.RootEvent{Source: source, Dirs: dirs}); err != nil {
				logger.Warn().Err(err).Msg("journal root event")
			}
		},
	})

	dirs := sb.Resolver().StartupDirectories(append(args, cfg.Directories...))
	if err := sb.Resolver().VerifyDirectories(dirs); err != nil {
		return err
	}
	if len(dirs) == 0 {
		printUsageHint(stderr)
		logger.Warn().Msg("Started without allowed directories - waiting for client to provide roots via MCP protocol")
	} else {
		sb.Replace("startup", dirs)
	}

	ex, err := pdf.NewExtractor(sb, pdf.Options{
		MaxFileSize:  maxSize,
		CacheEntries: cfg.CacheEntries,
		Logger:       logger.With().Str("component", "pdf").Logger(),
	})
	if err != nil {
		return err
	}
	mcpServer := mcp.NewServer(sb, ex, journal, mcp.Options{
		IgnoreFile: cfg.IgnoreFile,
		Logger:     logger.With().Str("component", "mcp").Logger(),
	})

	switch cfg.Transport {
	case "http":
		return serveHTTP(ctx, cfg, mcpServer, sb, journal, logger)
	default:
		return serveStdio(ctx, mcpServer, sb, logger)
	}
}

// printUsageHint tells the user how allowed directories can be supplied.
// It goes to stderr because stdout carries the stdio transport.
func printUsageHint(w io.Writer) {
	fmt.Fprintf(w, "Usage: %s [flags] [allowed-directory] [additional-directories...]\n", appName)
	fmt.Fprintln(w, "Note: Allowed directories can be provided via:")
	fmt.Fprintln(w, "  1. Command-line arguments (shown above)")
	fmt.Fprintln(w, "  2. MCP roots protocol (if client supports it)")
}

// openJournal returns a nil store, which records nothing, when path is empty.
func openJournal(path string) (*db.Store, error) {
	if path == "" {
		return nil, nil
	}
	store, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	return store, nil
}

func serveStdio(ctx context.Context, mcpServer *mcp.Server, sb *security.Sandbox, logger zerolog.Logger) error {
	sess := mcpServer.NewSession(transport.NewStdio(os.Stdin, os.Stdout))
	logger.Info().Str("session", sess.ID).Msg("MCP PDF Server running on stdio")
	if sb.Ready() {
		logger.Info().Strs("dirs", sb.ListAllowed()).Msg("Allowed directories")
	}
	err := sess.Serve(ctx)
	if errors.Is(err, mcp.ErrCannotOperate) {
		return err
	}
	if err != nil {
		return fmt.Errorf("stdio session: %w", err)
	}
	return nil
}

func serveHTTP(ctx context.Context, cfg *config.Config, mcpServer *mcp.Server, sb *security.Sandbox, journal *db.Store, logger zerolog.Logger) error {
	srv := server.New(mcpServer, sb, journal, server.Options{
		Addr:           cfg.Addr,
		IgnoreFile:     cfg.IgnoreFile,
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger.With().Str("component", "http").Logger(),
	})
	baseURL := "http://" + cfg.Addr
	logger.Info().Str("db", cfg.DBPath).Strs("dirs", sb.ListAllowed()).Msg("pdf-mcp starting")
	logger.Info().Msgf("MCP (Streamable HTTP): %s/mcp", baseURL)
	logger.Info().Msgf("MCP (WebSocket, roots supported): ws://%s/ws", cfg.Addr)
	if cfg.JWTSecret == "" {
		logger.Warn().Msg("jwt_secret is empty: HTTP endpoints are unauthenticated")
	}
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
