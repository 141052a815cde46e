package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/roach88/highmark/internal/record"
)

// DefaultDPI is the page image resolution used when none is configured.
const DefaultDPI = 110

// Pdftoppm rasterizes PDF pages by running poppler's pdftoppm.
type Pdftoppm struct {
	// Binary is the executable name or path. Defaults to "pdftoppm".
	Binary string
	DPI    int
}

var _ PageRenderer = Pdftoppm{}

// ErrNoSource is returned when the record has no readable source file.
var ErrNoSource = errors.New("source file missing")

// RenderPage renders one page to PNG bytes.
func (p Pdftoppm) RenderPage(ctx context.Context, rec record.Record, page int) ([]byte, error) {
	if page <= 0 {
		return nil, fmt.Errorf("invalid page %d", page)
	}
	if rec.FilePath == "" {
		return nil, ErrNoSource
	}
	if _, err := os.Stat(rec.FilePath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSource, err)
	}

	bin := p.Binary
	if bin == "" {
		bin = "pdftoppm"
	}
	dpi := p.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	tmp, err := os.MkdirTemp("", "highmark-page-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	prefix := filepath.Join(tmp, "page")
	n := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, bin,
		"-f", n, "-l", n,
		"-r", strconv.Itoa(dpi),
		"-png", "-singlefile",
		rec.FilePath, prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("read rendered page %d: %w", page, err)
	}
	return data, nil
}

// Available reports whether the configured binary can be found.
func (p Pdftoppm) Available() bool {
	bin := p.Binary
	if bin == "" {
		bin = "pdftoppm"
	}
	_, err := exec.LookPath(bin)
	return err == nil
}
