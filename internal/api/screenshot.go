package api

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/petar554/podshot/internal/pipeline"
	"github.com/rs/zerolog"
)

const msgNoScreenshot = "No screenshot uploaded."

// ScreenshotProcessor runs one screenshot through the pipeline.
type ScreenshotProcessor interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
}

// ScreenshotHandler accepts screenshot uploads.
type ScreenshotHandler struct {
	proc     ScreenshotProcessor
	maxBytes int64
	dev      bool
	log      zerolog.Logger
}

// NewScreenshotHandler creates a handler. dev adds error chains to 500
// responses.
func NewScreenshotHandler(proc ScreenshotProcessor, maxUploadMB int, dev bool, log zerolog.Logger) *ScreenshotHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 20
	}
	return &ScreenshotHandler{
		proc:     proc,
		maxBytes: int64(maxUploadMB) << 20,
		dev:      dev,
		log:      log.With().Str("handler", "screenshot").Logger(),
	}
}

// Routes registers the processing endpoint.
func (h *ScreenshotHandler) Routes(r chi.Router) {
	r.Post("/process-screenshot", h.Process)
}

// Process handles POST /process-screenshot. Any single file field is
// accepted; "screenshot" wins when several are present.
func (h *ScreenshotHandler) Process(w http.ResponseWriter, r *http.Request) {
	// Leave room for multipart framing around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "Screenshot too large.")
			return
		}
		WriteError(w, http.StatusBadRequest, msgNoScreenshot)
		return
	}
	defer r.MultipartForm.RemoveAll()

	header := pickFile(r.MultipartForm)
	if header == nil {
		WriteError(w, http.StatusBadRequest, msgNoScreenshot)
		return
	}
	if header.Size > h.maxBytes {
		WriteError(w, http.StatusRequestEntityTooLarge, "Screenshot too large.")
		return
	}

	file, err := header.Open()
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read screenshot")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read screenshot")
		return
	}

	result, err := h.proc.Run(r.Context(), pipeline.Input{
		Image:     data,
		Filename:  header.Filename,
		RequestID: RequestIDFrom(r.Context()),
	})
	if err != nil {
		var ve *pipeline.ValidationError
		if errors.As(err, &ve) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Str("stage", pipeline.FailedStage(err)).Str("file", header.Filename).Msg("screenshot processing failed")
		resp := ErrorResponse{Error: err.Error()}
		if h.dev {
			resp.Stack = errorChain(err)
		}
		WriteJSON(w, http.StatusInternalServerError, resp)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// pickFile returns the "screenshot" file, else the first file in field
// name order.
func pickFile(form *multipart.Form) *multipart.FileHeader {
	if form == nil {
		return nil
	}
	if fhs := form.File["screenshot"]; len(fhs) > 0 {
		return fhs[0]
	}
	names := make([]string, 0, len(form.File))
	for name, fhs := range form.File {
		if len(fhs) > 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return form.File[names[0]][0]
}

// errorChain renders err and each wrapped cause on its own line.
func errorChain(err error) string {
	var lines []string
	var se *pipeline.StageError
	if errors.As(err, &se) {
		lines = append(lines, se.Detail())
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		lines = append(lines, e.Error())
	}
	return strings.Join(lines, "\n")
}
