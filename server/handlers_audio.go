package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/onnwee/chatfeed/pipeline"
	"github.com/onnwee/chatfeed/telemetry"
)

type noSpeechResponse struct {
	Status     string `json:"status"`
	Transcript string `json:"transcript"`
}

type audioResponse struct {
	Status     string `json:"status"`
	Transcript string `json:"transcript"`
	Response   string `json:"response"`
}

// HandleProcessAudio accepts a multipart upload (field "audio", or "file")
// and runs it through the transcription pipeline.
func (h *Handlers) HandleProcessAudio(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	log := telemetry.LoggerWithCorr(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.maxAudioBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "audio too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with an audio file")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	audio, err := readUpload(r, h.maxAudioBytes, "audio", "file")
	switch {
	case errors.Is(err, errTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "audio too large")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "missing audio file")
		return
	}
	log.Debug("audio received", slog.Int("bytes", len(audio)), slog.String("component", "http"))

	res, err := h.deps.Pipeline.Handle(r.Context(), audio)
	if err != nil {
		log.Error("audio processing failed", slog.Any("err", err), slog.String("component", "http"))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": pipeline.StatusError, "error": "processing failed"})
		return
	}
	if res.Status == pipeline.StatusNoSpeech {
		writeJSON(w, http.StatusOK, noSpeechResponse{Status: res.Status, Transcript: ""})
		return
	}
	writeJSON(w, http.StatusOK, audioResponse{Status: res.Status, Transcript: res.Transcript, Response: res.Reply})
}

var errTooLarge = errors.New("upload too large")

func readUpload(r *http.Request, limit int64, fields ...string) ([]byte, error) {
	var f multipart.File
	var err error
	for _, field := range fields {
		if f, _, err = r.FormFile(field); err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, errTooLarge
	}
	return b, nil
}

// HandleTestText runs typed text through reply selection without starting a burst.
func (h *Handlers) HandleTestText(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text := strings.TrimSpace(body.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "No text provided")
		return
	}
	res := h.deps.Pipeline.HandleText(r.Context(), text)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   res.Status,
		"input":    res.Transcript,
		"response": res.Reply,
	})
}

// HandleLatest returns the latest reply for the single-line overlay.
func (h *Handlers) HandleLatest(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Pipeline.Latest())
}
