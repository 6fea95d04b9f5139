package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"

	"github.com/apex/log"

	"github.com/Brownie44l1/shop-classifier/internal/labels"
	"github.com/Brownie44l1/shop-classifier/internal/model"
)

// Predictor is the loaded model as seen by the HTTP layer.
type Predictor interface {
	PredictImage(img image.Image) (int, error)
	Predict(input []float32) (int, error)
}

// Options holds what the handlers read from disk and their limits.
type Options struct {
	ViewFile       string
	StaticDir      string
	StaticPrefix   string
	MaxUploadBytes int64
}

// AnalyzeResponse is the body of a successful prediction.
type AnalyzeResponse struct {
	Result string `json:"result"`
}

// PredictRequest carries an already preprocessed CHW tensor.
type PredictRequest struct {
	Image []float32 `json:"image"`
}

type Handler struct {
	predictor Predictor
	opts      Options
}

func NewHandler(predictor Predictor, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	return &Handler{
		predictor: predictor,
		opts:      opts,
	}
}

// Home serves the landing page. The file is read on every request so it can
// be edited without a restart.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	page, err := os.ReadFile(h.opts.ViewFile)
	if err != nil {
		logger(r).WithError(err).Error("failed to read landing page")
		http.Error(w, "Failed to load page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"})
}

// Analyze classifies the image uploaded in the "file" form field.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		if tooLarge(err) {
			http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No image file provided. Use 'file' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	imgBytes, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read upload", http.StatusBadRequest)
		return
	}

	img, format, err := image.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		logger(r).WithFields(log.Fields{
			"filename": header.Filename,
			"size":     len(imgBytes),
		}).Warn("upload is not a supported image")
		http.Error(w, "Invalid image format. Supported: JPEG, PNG, GIF", http.StatusBadRequest)
		return
	}

	logger(r).WithFields(log.Fields{
		"filename": header.Filename,
		"format":   format,
		"width":    img.Bounds().Dx(),
		"height":   img.Bounds().Dy(),
	}).Debug("image received")

	index, err := h.predictor.PredictImage(img)
	if err != nil {
		logger(r).WithError(err).Error("prediction failed")
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	h.respondLabel(w, r, index)
}

// Predict classifies a raw preprocessed tensor posted as JSON.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PredictRequest
	body := http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if tooLarge(err) {
			http.Error(w, "Request too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.Image) == 0 {
		http.Error(w, "Field 'image' is required", http.StatusBadRequest)
		return
	}

	index, err := h.predictor.Predict(req.Image)
	var sizeErr *model.InputSizeError
	if errors.As(err, &sizeErr) {
		http.Error(w, fmt.Sprintf("Expected %d values, got %d", sizeErr.Want, sizeErr.Got),
			http.StatusBadRequest)
		return
	}
	if err != nil {
		logger(r).WithError(err).Error("prediction failed")
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	h.respondLabel(w, r, index)
}

func (h *Handler) respondLabel(w http.ResponseWriter, r *http.Request, index int) {
	class, err := labels.FromIndex(index)
	if err != nil {
		// The output layer size is checked against the table at load time,
		// so this is a model/table mismatch rather than a client error.
		logger(r).WithError(err).Error("prediction outside label table")
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	logger(r).WithField("class", class.String()).Info("prediction")
	writeJSON(w, AnalyzeResponse{Result: class.Name()})
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}
