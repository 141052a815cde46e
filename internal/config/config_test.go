package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(path, true)
	assert.Error(t, err, "explicit config must exist")
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
output: ~/notes/books
pdf:
  renderer: none
log:
  level: debug
`)
	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, "~/notes/books", cfg.Output)
	assert.Equal(t, RendererNone, cfg.PDF.Renderer)
	assert.Equal(t, defaultDPI, cfg.PDF.DPI, "absent keys keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""), true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "outptu: /tmp/x\n"), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outptu")
}

func TestResolve_GlobsAppleBooksContainer(t *testing.T) {
	home := t.TempDir()
	docs := filepath.Join(home, "Library", "Containers", "com.apple.iBooksX", "Data", "Documents")
	for _, p := range []string{
		"BKLibrary/BKLibrary-1-091020131601.sqlite",
		"AEAnnotation/AEAnnotation_v10312011_1727_local.sqlite",
	} {
		full := filepath.Join(docs, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, nil, 0o644))
	}

	cfg := Default()
	cfg.Log.File = "~/logs/highmark.log"
	require.NoError(t, cfg.Resolve(home))

	assert.Equal(t, filepath.Join(home, "Documents", "Highmark"), cfg.Output)
	assert.Equal(t, filepath.Join(docs, "BKLibrary", "BKLibrary-1-091020131601.sqlite"), cfg.LibraryDB)
	assert.Equal(t, filepath.Join(docs, "AEAnnotation", "AEAnnotation_v10312011_1727_local.sqlite"), cfg.AnnotationDB)
	assert.Equal(t, filepath.Join(home, "logs", "highmark.log"), cfg.Log.File)
}

func TestResolve_MissingDatabase(t *testing.T) {
	cfg := Default()
	err := cfg.Resolve(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BKLibrary")

	cfg = Default()
	cfg.LibraryDB = "/explicit/lib.sqlite"
	cfg.AnnotationDB = "/explicit/ann.sqlite"
	require.NoError(t, cfg.Resolve(t.TempDir()), "explicit paths are not globbed")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"no output", func(c *Config) { c.Output = " " }, "output is required"},
		{"bad renderer", func(c *Config) { c.PDF.Renderer = "ghostscript" }, "pdf.renderer"},
		{"bad dpi", func(c *Config) { c.PDF.DPI = 0 }, "pdf.dpi"},
		{"no binary", func(c *Config) { c.PDF.Binary = "" }, "pdf.binary"},
		{"none ignores dpi", func(c *Config) { c.PDF.Renderer = RendererNone; c.PDF.DPI = 0 }, ""},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestDefaultPath_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/xdg", "highmark", "config.yaml"), path)
}

func TestExpandHome(t *testing.T) {
	assert.Equal(t, "/h", ExpandHome("~", "/h"))
	assert.Equal(t, filepath.Join("/h", "a"), ExpandHome("~/a", "/h"))
	assert.Equal(t, "~user/a", ExpandHome("~user/a", "/h"))
	assert.Equal(t, "", ExpandHome("", "/h"))
}
