// Package server exposes detection over HTTP.
package server

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crimson-sun/sentinel/internal/engine/features"
	"github.com/crimson-sun/sentinel/internal/engine/scorer"
	"github.com/crimson-sun/sentinel/internal/model"
	"github.com/crimson-sun/sentinel/internal/narrative"
	"github.com/crimson-sun/sentinel/internal/normalize"
	"github.com/crimson-sun/sentinel/internal/output"
	"github.com/crimson-sun/sentinel/internal/pipeline"
	"github.com/crimson-sun/sentinel/internal/source"
)

const defaultMaxUpload = 32 << 20

// Runner runs one detection through the pipeline.
type Runner interface {
	Run(ctx context.Context, sources []source.Source, threshold float64) (pipeline.Report, error)
}

// Handler serves the detection API.
type Handler struct {
	Runner         Runner
	Describer      pipeline.Describer // nil disables narratives
	Threshold      float64            // used when the request has none
	MaxUploadBytes int64
	ModelName      string
}

// NewRouter wires the routes. gatherer backs /metrics; nil omits the route.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", h.Health)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1", h.limitBody)
	v1.POST("/detect", h.Detect)
	v1.POST("/detect/export", h.Export)
	v1.POST("/describe", h.Describe)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
		)
	}
}

func (h *Handler) limitBody(c *gin.Context) {
	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	c.Next()
}

// Health reports liveness and the loaded model.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "model": h.ModelName})
}

type warning struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

type narrativeBody struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

type detectResponse struct {
	BatchID   string         `json:"batch_id"`
	Threshold float64        `json:"threshold"`
	Records   int            `json:"records"`
	Anomalies []output.Alert `json:"anomalies"`
	Warnings  []warning      `json:"warnings,omitempty"`
	SinkError string         `json:"sink_error,omitempty"`
	Narrative *narrativeBody `json:"narrative,omitempty"`
}

// Detect scores the uploaded logs and returns the anomalies.
func (h *Handler) Detect(c *gin.Context) {
	rep, ok := h.run(c)
	if !ok {
		return
	}

	resp := detectResponse{
		BatchID:   rep.BatchID,
		Threshold: rep.Threshold,
		Records:   rep.Dataset.Len(),
		Anomalies: make([]output.Alert, 0, len(rep.Anomalies)),
	}
	for _, a := range rep.Anomalies {
		resp.Anomalies = append(resp.Anomalies, output.NewAlert(model.AnnotatedRecord{
			LogRecord: a.LogRecord, AnomalyProb: a.AnomalyProb, Anomalous: true,
		}))
	}
	// Most suspicious first.
	slices.SortStableFunc(resp.Anomalies, func(a, b output.Alert) int {
		return cmp.Compare(b.AnomalyProb, a.AnomalyProb)
	})
	for _, w := range rep.Warnings {
		resp.Warnings = append(resp.Warnings, warning{Source: w.Source, Error: w.Err.Error()})
	}
	if rep.sinkErr != nil {
		resp.SinkError = rep.sinkErr.Error()
	}
	if wantDescribe(c) && rep.HasAnomalies() {
		resp.Narrative = h.describe(c.Request.Context(), rep.Anomalies)
	}
	c.JSON(http.StatusOK, resp)
}

// Export scores the uploaded logs and returns every record annotated, as CSV.
func (h *Handler) Export(c *gin.Context) {
	rep, ok := h.run(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	enc := output.NewEncoder(&buf, output.CSV, rep.Dataset.Columns)
	for _, row := range rep.Annotated {
		if err := enc.Encode(row); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if err := enc.Flush(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="annotated-%s.csv"`, rep.BatchID))
	c.Header("X-Batch-ID", rep.BatchID)
	c.Header("X-Anomalies", strconv.Itoa(len(rep.Anomalies)))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// Describe returns a narrative for a client-supplied anomaly list.
func (h *Handler) Describe(c *gin.Context) {
	var alerts []output.Alert
	if err := c.ShouldBindJSON(&alerts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.Describer == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "narratives are not configured"})
		return
	}

	anomalies := make([]model.ScoredRecord, len(alerts))
	for i, a := range alerts {
		anomalies[i] = model.ScoredRecord{
			LogRecord: model.LogRecord{
				RunID:        a.RunID,
				Stage:        a.Stage,
				Status:       a.Status,
				Timestamp:    normalize.ParseTimestamp(a.Timestamp),
				RawTimestamp: a.Timestamp,
				Message:      a.Message,
				Context:      a.Context,
			},
			AnomalyProb: a.AnomalyProb,
		}
	}

	n := h.describe(c.Request.Context(), anomalies)
	if n == nil {
		c.JSON(http.StatusOK, narrativeBody{})
		return
	}
	status := http.StatusOK
	if n.Error != "" {
		status = http.StatusBadGateway
	}
	c.JSON(status, n)
}

func (h *Handler) describe(ctx context.Context, anomalies []model.ScoredRecord) *narrativeBody {
	if h.Describer == nil || len(anomalies) == 0 {
		return nil
	}
	res := h.Describer.Describe(ctx, anomalies)
	body := &narrativeBody{Text: res.Text}
	if res.Err != nil {
		body.Error = res.Err.Error()
	}
	return body
}

func wantDescribe(c *gin.Context) bool {
	b, _ := strconv.ParseBool(c.Query("describe"))
	return b
}

type runReport struct {
	pipeline.Report
	sinkErr error
}

// run reads the request, runs detection and writes an error response on
// failure. ok is false when a response has already been written.
func (h *Handler) run(c *gin.Context) (rep runReport, ok bool) {
	threshold := h.Threshold
	if q := c.Query("threshold"); q != "" {
		t, err := strconv.ParseFloat(q, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid threshold %q", q)})
			return rep, false
		}
		threshold = t
	}

	sources, err := readSources(c)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return rep, false
	}

	report, err := h.Runner.Run(c.Request.Context(), sources, threshold)
	if err != nil && report.BatchID == "" {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return rep, false
	}
	if err != nil {
		slog.Warn("detection sinks failed", "batch_id", report.BatchID, "error", err)
	}
	return runReport{Report: report, sinkErr: err}, true
}

// readSources accepts multipart uploads in the "files" field or a raw body
// whose Content-Type selects JSON, CSV or a plain-text workflow log. A zstd Content-Encoding is honoured.
func readSources(c *gin.Context) ([]source.Source, error) {
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))

	if mediaType == "multipart/form-data" {
		form, err := c.MultipartForm()
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		files := form.File["files"]
		if len(files) == 0 {
			return nil, errors.New(`no files in form field "files"`)
		}
		sources := make([]source.Source, 0, len(files))
		for _, fh := range files {
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
			}
			sources = append(sources, source.Bytes(fh.Filename, data))
		}
		return sources, nil
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty request body")
	}
	name := "body.json"
	switch mediaType {
	case "text/csv":
		name = "body.csv"
	case "text/plain":
		name = "body.log"
	}
	if strings.EqualFold(c.GetHeader("Content-Encoding"), "zstd") {
		name += ".zst"
	}
	return []source.Source{source.Bytes(name, data)}, nil
}

// statusFor maps detection errors to HTTP statuses.
func statusFor(err error) int {
	var (
		empty     *normalize.EmptyInputError
		threshold *scorer.ThresholdError
		schema    *features.SchemaMismatchError
		missing   *scorer.ModelUnavailableError
	)
	switch {
	case errors.As(err, &threshold):
		return http.StatusBadRequest
	case errors.As(err, &empty):
		return http.StatusUnprocessableEntity
	case errors.As(err, &missing):
		return http.StatusServiceUnavailable
	case errors.As(err, &schema):
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var _ pipeline.Describer = (*narrative.Client)(nil)
