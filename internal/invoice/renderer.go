package invoice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// ErrRenderFailed covers a non-zero toolchain exit, a timeout, or a missing output file.
var ErrRenderFailed = errors.New("invoice render failed")

// Document is the LaTeX source for one booking's invoice.
type Document struct {
	BookingID string
	Source    []byte
	// Assets maps a file name inside the render directory to the file to copy there.
	Assets map[string]string
}

type RenderedFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// Renderer turns a document into a PDF.
type Renderer interface {
	Render(ctx context.Context, doc Document) (*RenderedFile, error)
}

const (
	ModeLocal  = "local"
	ModeDocker = "docker"
)

type RendererConfig struct {
	// Mode is "local" (run Binary directly) or "docker" (run Binary inside Image).
	Mode    string
	Binary  string
	Image   string
	WorkDir string
	Timeout time.Duration
}

// LatexRenderer compiles documents with pdflatex in a throwaway directory.
type LatexRenderer struct {
	config RendererConfig
	logger *zap.Logger
}

func NewLatexRenderer(cfg RendererConfig, logger *zap.Logger) *LatexRenderer {
	if cfg.Mode == "" {
		cfg.Mode = ModeDocker
	}
	if cfg.Binary == "" {
		cfg.Binary = "pdflatex"
	}
	if cfg.Image == "" {
		cfg.Image = "blang/latex:ctanfull"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &LatexRenderer{config: cfg, logger: logger}
}

func (r *LatexRenderer) Render(ctx context.Context, doc Document) (*RenderedFile, error) {
	if r.config.WorkDir != "" {
		if err := os.MkdirAll(r.config.WorkDir, 0o755); err != nil {
			return nil, fmt.Errorf("create render work dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(r.config.WorkDir, "invoice-*")
	if err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer os.RemoveAll(dir)

	base := "invoice-" + doc.BookingID
	if err := os.WriteFile(filepath.Join(dir, base+".tex"), doc.Source, 0o644); err != nil {
		return nil, fmt.Errorf("write invoice source: %w", err)
	}
	for name, src := range doc.Assets {
		if err := copyFile(src, filepath.Join(dir, name)); err != nil {
			r.logger.Warn("invoice asset unavailable, rendering without it",
				zap.String("booking_id", doc.BookingID),
				zap.String("asset", src),
				zap.Error(err),
			)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	name, args := r.command(dir, base+".tex")
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: timed out after %s", ErrRenderFailed, r.config.Timeout)
	}
	if err != nil {
		r.logger.Error("pdflatex failed",
			zap.String("booking_id", doc.BookingID),
			zap.String("output", tail(output, 2048)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, base+".pdf"))
	if err != nil {
		return nil, fmt.Errorf("%w: no output file: %v", ErrRenderFailed, err)
	}

	r.logger.Debug("invoice rendered",
		zap.String("booking_id", doc.BookingID),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)),
	)
	return &RenderedFile{Name: base + ".pdf", ContentType: "application/pdf", Data: data}, nil
}

func (r *LatexRenderer) command(dir, source string) (string, []string) {
	latex := []string{r.config.Binary, "-interaction=nonstopmode", "-halt-on-error", source}
	if r.config.Mode == ModeLocal {
		return latex[0], latex[1:]
	}
	args := []string{"run", "--rm", "-v", dir + ":/workdir", "-w", "/workdir", r.config.Image}
	return "docker", append(args, latex...)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
