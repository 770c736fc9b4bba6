package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/kiesman99/dpsconvert/internal/logging"
	"github.com/kiesman99/dpsconvert/internal/transform"
	"github.com/kiesman99/dpsconvert/pkg/tile"
)

const (
	// DefaultMaxImageBytes limits the size of uploaded images
	DefaultMaxImageBytes = 64 << 20
	// DefaultMaxPixels limits the area of every raster built for a request
	DefaultMaxPixels = 1 << 26
)

// Server implements the conversion API
type Server struct {
	startTime     time.Time
	version       string
	layout        tile.Layout
	maxImageBytes int64
}

// NewServer creates a new server instance
func NewServer(version string) *Server {
	return &Server{
		startTime:     time.Now(),
		version:       version,
		layout:        serverLayout(),
		maxImageBytes: DefaultMaxImageBytes,
	}
}

func serverLayout() tile.Layout {
	l := tile.DefaultLayout()
	l.MaxPixels = DefaultMaxPixels
	return l
}

// NewRouter mounts the API below /api/v1 with the standard middleware stack
func NewRouter(s *Server, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(timeout))
	r.Use(cors)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.GetHealth)
		r.Post("/convert", s.Convert)
		r.Post("/footprint", s.Footprint)
	})

	// Legacy health endpoint (without /api/v1 prefix)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/v1/health", http.StatusMovedPermanently)
	})

	return r
}

// cors allows browser clients to post images from any origin
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-Grid-Footprint, X-Scaled-Unit")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GetHealth implements the health check endpoint
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	uptime := int(time.Since(s.startTime).Seconds())

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    &uptime,
		Version:   &s.version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logging.FromContext(r.Context()).Error("Encoding health response", "err", err)
	}
}

// Convert transforms the PNG in the request body and responds with either
// the preview or the final image
func (s *Server) Convert(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	params, err := parseParams(r)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, CodeValidationError, err.Error(), &requestID, nil)
		return
	}

	variant := r.URL.Query().Get("variant")
	if variant == "" {
		variant = VariantFinal
	}
	if variant != VariantFinal && variant != VariantPreview {
		s.writeErrorResponse(w, http.StatusBadRequest, CodeValidationError,
			fmt.Sprintf("variant must be %q or %q", VariantPreview, VariantFinal), &requestID, nil)
		return
	}

	img, ok := s.readImage(w, r, &requestID)
	if !ok {
		return
	}

	opts := transform.DefaultOptions(params)
	opts.Layout = s.layout
	tr, err := transform.New(opts)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, CodeValidationError, err.Error(), &requestID, nil)
		return
	}

	result, err := tr.Transform(r.Context(), img)
	if err != nil {
		s.handleTransformError(w, err, &requestID)
		return
	}

	out := result.Final
	if variant == VariantPreview {
		out = result.Preview
	}

	data, err := tile.EncodePNG(out)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, CodeInternalError,
			"Failed to encode output image", &requestID, nil)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("X-Grid-Footprint", result.Footprint.String())
	w.Header().Set("X-Scaled-Unit", strconv.Itoa(result.Unit))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logging.FromContext(r.Context()).Error("Writing response", "err", err)
	}
}

// Footprint reports the geometry of a conversion without resampling anything
func (s *Server) Footprint(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	params, err := parseParams(r)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, CodeValidationError, err.Error(), &requestID, nil)
		return
	}

	img, ok := s.readImage(w, r, &requestID)
	if !ok {
		return
	}

	cropped, err := transform.Crop(img)
	if err != nil {
		s.handleTransformError(w, err, &requestID)
		return
	}

	unit := params.ScaledUnit(s.layout.FallbackUnit)
	footprint, err := tile.FootprintOf(cropped.Bounds().Size(), unit)
	if err != nil {
		s.handleTransformError(w, err, &requestID)
		return
	}

	canvas, err := tile.CanvasSize(footprint, unit, s.layout)
	if err != nil {
		s.handleTransformError(w, err, &requestID)
		return
	}
	final, err := tile.ImageSize(footprint, s.layout)
	if err != nil {
		s.handleTransformError(w, err, &requestID)
		return
	}

	response := FootprintResponse{
		Unit:      unit,
		Footprint: Size{footprint.Width, footprint.Height},
		Content:   toSize(cropped.Bounds().Size()),
		Canvas:    toSize(canvas),
		Offset:    toSize(tile.CenterOffset(canvas, cropped.Bounds().Size())),
		Preview:   toSize(tile.PreviewSize(footprint, s.layout.PreviewPixels)),
		Image:     toSize(final),
	}
	if params.Optimize() {
		size, err := tile.OptimizeSize(footprint, params.OptimizeTarget, s.layout)
		if err != nil {
			s.handleTransformError(w, err, &requestID)
			return
		}
		optimized := toSize(size)
		response.Optimized = &optimized
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logging.FromContext(r.Context()).Error("Encoding footprint response", "err", err)
	}
}

func toSize(p image.Point) Size {
	return Size{Width: p.X, Height: p.Y}
}

// parseParams reads pixels, scale and optimize from the query string
func parseParams(r *http.Request) (tile.Params, error) {
	var p tile.Params
	var err error

	q := r.URL.Query()
	if p.PixelsPerUnit, err = positiveInt(q.Get("pixels"), "pixels"); err != nil {
		return p, err
	}
	if p.UnitsPerSquare, err = positiveInt(q.Get("scale"), "scale"); err != nil {
		return p, err
	}
	if p.OptimizeTarget, err = positiveInt(q.Get("optimize"), "optimize"); err != nil {
		return p, err
	}
	return p, nil
}

func positiveInt(value, name string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: %q is an invalid positive int value", name, value)
	}
	return n, nil
}

// readImage decodes the request body, writing the error response itself
func (s *Server) readImage(w http.ResponseWriter, r *http.Request, requestID *string) (*image.NRGBA, bool) {
	body := http.MaxBytesReader(w, r.Body, s.maxImageBytes)
	defer body.Close()

	img, err := tile.ReadImage(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorResponse(w, http.StatusRequestEntityTooLarge, CodeTooLarge,
				fmt.Sprintf("Image exceeds %d bytes", s.maxImageBytes), requestID, nil)
			return nil, false
		}
		s.writeErrorResponse(w, http.StatusBadRequest, CodeInvalidImage, err.Error(), requestID, nil)
		return nil, false
	}
	return img, true
}

// handleTransformError maps transformation failures to responses
func (s *Server) handleTransformError(w http.ResponseWriter, err error, requestID *string) {
	if errors.Is(err, transform.ErrEmptyImage) {
		s.writeErrorResponse(w, http.StatusUnprocessableEntity, CodeEmptyImage,
			"Image has no visible pixels", requestID, nil)
		return
	}

	if errors.Is(err, tile.ErrTooLarge) {
		s.writeErrorResponse(w, http.StatusBadRequest, CodeValidationError,
			err.Error(), requestID, map[string]interface{}{
				"max_pixels": s.layout.MaxPixels,
			})
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		s.writeErrorResponse(w, http.StatusGatewayTimeout, CodeTimeout,
			"Conversion timed out", requestID, nil)
		return
	}

	s.writeErrorResponse(w, http.StatusInternalServerError, CodeInternalError,
		"Internal server error", requestID, map[string]interface{}{
			"cause": err.Error(),
		})
}

// writeErrorResponse writes a standard error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string, requestID *string, details map[string]interface{}) {
	response := ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestId: requestID,
	}

	if details != nil {
		response.Details = &details
	}

	w.Header().Set("Content-Type", "application/json")
	if requestID != nil {
		w.Header().Set("X-Request-ID", *requestID)
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}
