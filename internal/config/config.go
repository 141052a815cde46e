// Package config loads the highmark configuration file.
//
// The file is optional YAML. Unknown keys are rejected so typos surface
// instead of silently falling back to defaults. Empty database paths are
// resolved by globbing the Apple Books container.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Renderer names accepted by pdf.renderer.
const (
	RendererPdftoppm = "pdftoppm"
	RendererNone     = "none"
)

const (
	defaultDPI = 110

	booksContainer = "Library/Containers/com.apple.iBooksX/Data/Documents"
)

// Config is the parsed configuration file.
type Config struct {
	// Output is the root of the published markdown tree.
	Output string `yaml:"output"`

	// LibraryDB and AnnotationDB locate the Apple Books databases. Empty
	// values are resolved by Resolve.
	LibraryDB    string `yaml:"library_db"`
	AnnotationDB string `yaml:"annotation_db"`

	PDF PDFConfig `yaml:"pdf"`
	Log LogConfig `yaml:"log"`
}

// PDFConfig controls page image rendering.
type PDFConfig struct {
	Renderer string `yaml:"renderer"`
	DPI      int    `yaml:"dpi"`
	Binary   string `yaml:"binary"`
}

// LogConfig controls the optional rotating log file.
type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Output: "~/Documents/Highmark",
		PDF: PDFConfig{
			Renderer: RendererPdftoppm,
			DPI:      defaultDPI,
			Binary:   "pdftoppm",
		},
		Log: LogConfig{Level: "info"},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/highmark/config.yaml, falling back to
// ~/.config when XDG_CONFIG_HOME is unset.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "highmark", "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "highmark", "config.yaml"), nil
}

// Load reads path over the defaults. A missing file is only an error when
// required is true (the path was given explicitly).
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := Decode(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode parses YAML into cfg, keeping cfg's values for absent keys.
func Decode(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Resolve expands ~ in every path and fills empty database paths from the
// Apple Books container under home.
func (c *Config) Resolve(home string) error {
	c.Output = ExpandHome(c.Output, home)
	c.LibraryDB = ExpandHome(c.LibraryDB, home)
	c.AnnotationDB = ExpandHome(c.AnnotationDB, home)
	c.Log.File = ExpandHome(c.Log.File, home)

	var err error
	if c.LibraryDB == "" {
		if c.LibraryDB, err = findDatabase(home, "BKLibrary"); err != nil {
			return err
		}
	}
	if c.AnnotationDB == "" {
		if c.AnnotationDB, err = findDatabase(home, "AEAnnotation"); err != nil {
			return err
		}
	}
	return nil
}

func findDatabase(home, name string) (string, error) {
	pattern := filepath.Join(home, filepath.FromSlash(booksContainer), name, "*.sqlite")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no %s database found under %s; set it in the config file or by flag", name, filepath.Dir(pattern))
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// ExpandHome replaces a leading ~ with home.
func ExpandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Output) == "" {
		return fmt.Errorf("output is required")
	}
	switch c.PDF.Renderer {
	case RendererPdftoppm:
		if c.PDF.DPI <= 0 {
			return fmt.Errorf("pdf.dpi must be positive, got %d", c.PDF.DPI)
		}
		if strings.TrimSpace(c.PDF.Binary) == "" {
			return fmt.Errorf("pdf.binary is required when pdf.renderer is %q", RendererPdftoppm)
		}
	case RendererNone:
	default:
		return fmt.Errorf("pdf.renderer must be %q or %q, got %q", RendererPdftoppm, RendererNone, c.PDF.Renderer)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps log.level to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s)
	}
}
