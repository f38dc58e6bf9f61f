package pipeline

import (
	"errors"
	"fmt"
)

// Stage names reported in failures and metrics.
const (
	StageValidation      = "validation"
	StageTemplateMatch   = "template-match"
	StageRegions         = "region-extraction"
	StageOCR             = "ocr"
	StageVision          = "vision"
	StageFieldExtraction = "field-extraction"
	StageCatalog         = "catalog"
	StageFeed            = "feed"
	StageDownload        = "download"
	StageExtract         = "extraction"
	StageStore           = "snippet-store"
	StageTranscribe      = "transcription"
)

// ErrNoScreenshot is the validation failure for an empty upload.
var ErrNoScreenshot = errors.New("No screenshot uploaded.")

// ValidationError rejects a request before any external call.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// ExtractionError means no usable show name survived OCR and the vision
// fallback.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return "No valid show name extracted from screenshot."
}

// StageError is a fatal failure at one stage. Error returns the
// lower-level message unchanged so clients see what actually failed.
type StageError struct {
	Stage string
	State State
	Err   error
}

func (e *StageError) Error() string { return e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// Detail includes the stage for logs.
func (e *StageError) Detail() string {
	return fmt.Sprintf("stage %s (after %s): %v", e.Stage, e.State, e.Err)
}

// FailedStage returns the stage of err when it is a StageError.
func FailedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return StageValidation
	}
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return StageFieldExtraction
	}
	return ""
}
