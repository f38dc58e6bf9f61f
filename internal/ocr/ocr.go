// Package ocr reads text out of screenshot regions with an external OCR
// engine.
package ocr

import (
	"context"
	"strings"
)

// Engine recognizes text in an encoded image.
type Engine interface {
	Recognize(ctx context.Context, img []byte, p Profile) (string, error)
}

// Profile tunes one recognition call.
type Profile struct {
	Lang        string
	EngineMode  int    // tesseract --oem
	PageSegMode int    // tesseract --psm
	Whitelist   string // empty = no restriction
}

// Page segmentation modes used by the built-in profiles.
const (
	PSMAuto       = 3
	PSMBlock      = 6
	PSMSingleLine = 7
)

// EngineModeLSTM selects tesseract's neural engine.
const EngineModeLSTM = 1

// TimestampProfile reads a single line of digits and separators.
func TimestampProfile(lang string) Profile {
	return Profile{Lang: lang, EngineMode: EngineModeLSTM, PageSegMode: PSMSingleLine, Whitelist: "0123456789:-"}
}

// TextProfile reads a block of free text such as a show or episode title.
func TextProfile(lang string) Profile {
	return Profile{Lang: lang, EngineMode: EngineModeLSTM, PageSegMode: PSMBlock}
}

// FullImageProfile lets the engine find text anywhere on the screenshot.
func FullImageProfile(lang string) Profile {
	return Profile{Lang: lang, EngineMode: EngineModeLSTM, PageSegMode: PSMAuto}
}

// Fields are the three values the pipeline needs from a screenshot.
// Any of them may be empty.
type Fields struct {
	Podcast   string `json:"podcast"`
	Episode   string `json:"episode"`
	Timestamp string `json:"timestamp"`
}

// Complete reports whether every field is set.
func (f Fields) Complete() bool {
	return f.Podcast != "" && f.Episode != "" && f.Timestamp != ""
}

// lines splits OCR output into trimmed non-empty lines.
func lines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// joinLines flattens a multi-line title into one line.
func joinLines(text string) string {
	return strings.Join(lines(text), " ")
}
