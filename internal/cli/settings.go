package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roach88/highmark/internal/config"
	"github.com/roach88/highmark/internal/engine"
	"github.com/roach88/highmark/internal/process"
	"github.com/roach88/highmark/internal/render"
)

// Log rotation limits for --log-file.
const (
	logMaxSizeMB  = 10
	logMaxBackups = 3
)

// settings is the resolved configuration and logger of one command.
type settings struct {
	cfg    config.Config
	logger *slog.Logger
	logs   io.Closer
}

func (s *settings) Close() {
	if s.logs != nil {
		_ = s.logs.Close()
	}
}

// loadSettings layers defaults, the config file and flags (via override),
// then validates. needSource resolves the database paths as well.
func loadSettings(opts *RootOptions, cmd *cobra.Command, needSource bool, override func(*config.Config)) (*settings, error) {
	path, required := opts.ConfigPath, opts.ConfigPath != ""
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("locate config file: %w", err)
		}
		path = p
	}

	cfg, err := config.Load(path, required)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(&cfg)
	}
	if opts.LogFile != "" {
		cfg.Log.File = opts.LogFile
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("locate home directory: %w", err)
	}
	if needSource {
		if err := cfg.Resolve(home); err != nil {
			return nil, err
		}
	} else {
		cfg.Output = config.ExpandHome(cfg.Output, home)
		cfg.Log.File = config.ExpandHome(cfg.Log.File, home)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, closer := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	slog.Debug("config loaded", "path", path, "output", cfg.Output)
	return &settings{cfg: cfg, logger: logger, logs: closer}, nil
}

// newLogger builds a text logger on stderr, teeing into a lumberjack file
// when log.file is set.
func newLogger(cfg config.Config, verbose bool, stderr io.Writer) (*slog.Logger, io.Closer) {
	logLevel, _ := config.ParseLevel(cfg.Log.Level)
	if verbose {
		logLevel = slog.LevelDebug
	}

	var (
		w      = stderr
		closer io.Closer
	)
	if cfg.Log.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
		}
		w = io.MultiWriter(stderr, file)
		closer = file
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	return slog.New(handler), closer
}

// newEngine wires the markdown renderer and, when configured and installed,
// the pdftoppm page renderer.
func newEngine(cfg config.Config, src engine.Source, logger *slog.Logger, env *process.Env) *engine.Engine {
	opts := []engine.Option{engine.WithLogger(logger)}
	if env != nil {
		opts = append(opts, engine.WithEnv(*env))
	}
	if cfg.PDF.Renderer == config.RendererPdftoppm {
		pages := render.Pdftoppm{Binary: cfg.PDF.Binary, DPI: cfg.PDF.DPI}
		if pages.Available() {
			opts = append(opts, engine.WithPageRenderer(pages))
		} else {
			logger.Warn("pdf renderer not found, PDF page images disabled", "binary", cfg.PDF.Binary)
		}
	}
	return engine.New(src, render.Markdown{}, opts...)
}
