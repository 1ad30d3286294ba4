// Package api exposes the take catalog and recording lifecycle over HTTP.
// All responses are JSON; errors carry a single "detail" field.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/magnopus-opensource/blackhole/internal/catalog"
	"github.com/magnopus-opensource/blackhole/internal/export"
	"github.com/magnopus-opensource/blackhole/internal/monitoring"
	"github.com/magnopus-opensource/blackhole/internal/recording"
	"github.com/magnopus-opensource/blackhole/internal/timeutil"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Takes is the catalog surface the API serves.
type Takes interface {
	Get(slate string, takeNumber int) (catalog.Take, error)
	GetMany(startDate, endDate, slateHint string) ([]catalog.Take, error)
	GetByIDs(ids []catalog.TakeID, includeCorrections bool) ([]catalog.Take, error)
	Upsert(u catalog.TakeUpdate, today string) (catalog.Take, error)
	Update(u catalog.TakeUpdate) (catalog.Take, error)
}

// Recorder is the session manager surface the API drives.
type Recorder interface {
	Status() (recording bool, slate string, takeNumber int, frameRate int)
	Start(take catalog.Take) (*recording.Session, error)
	Stop()
}

// Exporter packages takes for delivery.
type Exporter interface {
	Export(takes []catalog.Take) (export.Result, error)
}

type Server struct {
	takes    Takes
	recorder Recorder
	exporter Exporter
	clock    timeutil.Clock
}

func NewServer(takes Takes, recorder Recorder, exporter Exporter, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{
		takes:    takes,
		recorder: recorder,
		exporter: exporter,
		clock:    clock,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /take/{$}", s.listTakes)
	mux.HandleFunc("GET /take/{slate}/{take_number}", s.showTake)
	mux.HandleFunc("PUT /take/update", s.updateTake)
	mux.HandleFunc("GET /recording", s.showRecording)
	mux.HandleFunc("POST /recording/{slate}/{take_number}/start", s.startRecording)
	mux.HandleFunc("POST /recording/{slate}/{take_number}/stop", s.stopRecording)
	mux.HandleFunc("POST /export_selection", s.exportSelection)
	mux.HandleFunc("POST /export_by_date", s.exportByDate)
	return mux
}
