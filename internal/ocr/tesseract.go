package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Tesseract runs the tesseract CLI, piping the image on stdin and reading
// the text from stdout.
type Tesseract struct {
	path string
}

// NewTesseract returns an engine that execs the binary at path
// ("tesseract" when empty).
func NewTesseract(path string) *Tesseract {
	if path == "" {
		path = "tesseract"
	}
	return &Tesseract{path: path}
}

// Check reports whether the tesseract binary can be found. Call once at
// startup.
func (t *Tesseract) Check() bool {
	_, err := exec.LookPath(t.path)
	return err == nil
}

// Recognize implements Engine.
func (t *Tesseract) Recognize(ctx context.Context, img []byte, p Profile) (string, error) {
	cmd := exec.CommandContext(ctx, t.path, tesseractArgs(p)...)
	cmd.Stdin = bytes.NewReader(img)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("tesseract: %w", ctx.Err())
		}
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func tesseractArgs(p Profile) []string {
	lang := p.Lang
	if lang == "" {
		lang = "eng"
	}
	args := []string{
		"stdin", "stdout",
		"-l", lang,
		"--oem", strconv.Itoa(p.EngineMode),
		"--psm", strconv.Itoa(p.PageSegMode),
	}
	if p.Whitelist != "" {
		args = append(args, "-c", "tessedit_char_whitelist="+p.Whitelist)
	}
	return args
}
