package invoice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeLatex writes a shell script standing in for pdflatex.
func fakeLatex(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pdflatex")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

const producePDF = `for a; do src="$a"; done
[ -f logo.png ] || exit 3
printf '%%PDF-1.4 fake' > "${src%.tex}.pdf"`

func TestLatexRenderer_Local(t *testing.T) {
	logo := filepath.Join(t.TempDir(), "logo.png")
	require.NoError(t, os.WriteFile(logo, []byte("png"), 0o644))

	workDir := t.TempDir()
	r := NewLatexRenderer(RendererConfig{
		Mode:    ModeLocal,
		Binary:  fakeLatex(t, producePDF),
		WorkDir: workDir,
		Timeout: 10 * time.Second,
	}, zap.NewNop())

	file, err := r.Render(context.Background(), Document{
		BookingID: "b-1",
		Source:    []byte(`\documentclass{article}`),
		Assets:    map[string]string{"logo.png": logo},
	})
	require.NoError(t, err)
	assert.Equal(t, "invoice-b-1.pdf", file.Name)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.Equal(t, "%PDF-1.4 fake", string(file.Data))

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "render directory should be removed")
}

func TestLatexRenderer_Failures(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		timeout time.Duration
	}{
		{"non-zero exit", "echo '! LaTeX Error' >&2; exit 1", 10 * time.Second},
		{"missing output", "exit 0", 10 * time.Second},
		{"timeout", "sleep 5", 200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewLatexRenderer(RendererConfig{
				Mode:    ModeLocal,
				Binary:  fakeLatex(t, tt.script),
				WorkDir: t.TempDir(),
				Timeout: tt.timeout,
			}, zap.NewNop())

			_, err := r.Render(context.Background(), Document{BookingID: "b-2", Source: []byte("x")})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrRenderFailed), "got %v", err)
		})
	}
}

func TestLatexRenderer_Command(t *testing.T) {
	docker := NewLatexRenderer(RendererConfig{}, zap.NewNop())
	name, args := docker.command("/tmp/invoice-1", "invoice-1.tex")
	assert.Equal(t, "docker", name)
	assert.Equal(t, []string{
		"run", "--rm", "-v", "/tmp/invoice-1:/workdir", "-w", "/workdir", "blang/latex:ctanfull",
		"pdflatex", "-interaction=nonstopmode", "-halt-on-error", "invoice-1.tex",
	}, args)

	local := NewLatexRenderer(RendererConfig{Mode: ModeLocal, Binary: "/usr/bin/pdflatex"}, zap.NewNop())
	name, args = local.command("/tmp/x", "invoice-1.tex")
	assert.Equal(t, "/usr/bin/pdflatex", name)
	assert.Equal(t, []string{"-interaction=nonstopmode", "-halt-on-error", "invoice-1.tex"}, args)
}
