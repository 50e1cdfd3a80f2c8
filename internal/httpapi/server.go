package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/joelkehle/snomed-consensus/internal/consensus"
	"github.com/joelkehle/snomed-consensus/internal/report"
	"github.com/joelkehle/snomed-consensus/internal/terminology"
	"github.com/joelkehle/snomed-consensus/internal/usage"
)

const (
	CodeInvalidRequest      = "invalid_request"
	CodeTerminologyDown     = "terminology_unavailable"
	CodeTimeout             = "timeout"
	CodeUsageDisabled       = "usage_disabled"
	CodeRenderFailed        = "render_failed"
	CodeInternal            = "internal"
	defaultMaxBodyBytes     = 1 << 20
	defaultNormalizeTimeout = 10 * time.Minute
)

type Normalizer interface {
	Run(ctx context.Context, req consensus.Request) (consensus.Result, error)
}

type TerminologyStatus interface {
	Load() error
	Stats() terminology.Stats
}

type UsageReporter interface {
	Stats(ctx context.Context) (usage.Stats, error)
}

type Config struct {
	Normalizer  Normalizer
	Terminology TerminologyStatus
	// Usage may be nil when admission control is disabled.
	Usage UsageReporter
	// PDF may be nil; format=pdf is then rejected.
	PDF            report.PDFPrinter
	Logger         *zap.Logger
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

type Server struct {
	cfg Config
	log *zap.Logger
}

func NewServer(cfg Config) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultNormalizeTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{cfg: cfg, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/normalize", s.handleNormalize)
	mux.HandleFunc("/v1/health", s.handleHealth)
	mux.HandleFunc("/v1/usage", s.handleUsage)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, transient bool) {
	writeJSON(w, status, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":      code,
			"message":   message,
			"transient": transient,
		},
	})
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

type normalizeRequest struct {
	NoteText string `json:"note_text"`
	Runs     int    `json:"runs,omitempty"`
	Format   string `json:"format,omitempty"`
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeInvalidRequest, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit), false)
			return
		}
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), false)
		return
	}
	var in normalizeRequest
	if err := json.Unmarshal(blob, &in); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON: "+err.Error(), false)
		return
	}
	formatName := in.Format
	if q := r.URL.Query().Get("format"); q != "" {
		formatName = q
	}
	format, err := report.ParseFormat(formatName)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), false)
		return
	}
	if format == report.FormatPDF && s.cfg.PDF == nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "pdf output is not enabled on this server", false)
		return
	}
	if strings.TrimSpace(in.NoteText) == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "note_text is required", false)
		return
	}
	if in.Runs < 0 || in.Runs > consensus.MaxRuns {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("runs must be between 1 and %d", consensus.MaxRuns), false)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	started := time.Now()
	res, err := s.cfg.Normalizer.Run(ctx, consensus.Request{NoteText: in.NoteText, Runs: in.Runs})
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	s.log.Info("normalize request served",
		zap.String("request_id", res.RequestID),
		zap.Int("runs_succeeded", res.Stats.RunsSucceeded),
		zap.Int("entities", res.Stats.Final),
		zap.Int64("elapsed_ms", time.Since(started).Milliseconds()))

	if format == report.FormatJSON {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
		return
	}
	var buf bytes.Buffer
	if err := report.Write(ctx, &buf, res, format, s.cfg.PDF); err != nil {
		s.log.Error("report rendering failed",
			zap.String("request_id", res.RequestID),
			zap.String("format", string(format)),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeRenderFailed, "report rendering failed: "+err.Error(), false)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	stage := consensus.StageNameFromError(err)
	s.log.Warn("normalize request failed", zap.String("stage", stage), zap.Error(err))
	switch {
	case errors.Is(err, consensus.ErrEmptyNote):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), false)
	case errors.Is(err, terminology.ErrUnloadable):
		writeError(w, http.StatusServiceUnavailable, CodeTerminologyDown, err.Error(), false)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, CodeTimeout, err.Error(), true)
	default:
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error(), true)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	if err := s.cfg.Terminology.Load(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":          false,
			"terminology": s.cfg.Terminology.Stats(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"terminology": s.cfg.Terminology.Stats(),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	if s.cfg.Usage == nil {
		writeError(w, http.StatusNotFound, CodeUsageDisabled, "usage tracking is disabled", false)
		return
	}
	st, err := s.cfg.Usage.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error(), true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "usage": st})
}
