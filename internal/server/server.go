package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"epg_aggregator/internal/aggregator"
	"epg_aggregator/internal/logger"
	"epg_aggregator/internal/models"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Responder отдаёт готовую программу в нужном формате.
type Responder interface {
	Respond(ctx context.Context, format models.Format, ttl time.Duration) (*aggregator.Response, error)
}

// Pinger проверяет доступность внешней зависимости.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server хранит зависимости HTTP-обработчиков.
type Server struct {
	svc        Responder
	defaultTTL time.Duration
	db         Pinger
}

// NewServer создаёт Server. db может быть nil, если реестр источников не подключён.
func NewServer(svc Responder, defaultTTL time.Duration, db Pinger) *Server {
	return &Server{svc: svc, defaultTTL: defaultTTL, db: db}
}

// Handler собирает маршруты вместе с middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.GetEPG)
	mux.HandleFunc("GET /epg.xml", s.GetEPG)
	mux.HandleFunc("GET /health", s.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	return handler
}

// HealthCheck отвечает 200 OK; при подключённой БД проверяет и её.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			http.Error(w, "DB unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Write([]byte("OK"))
}

// GetEPG отдаёт объединённую программу. Параметры: gzip=1 - сжатый ответ,
// ttl - окно свежести в секундах.
func (s *Server) GetEPG(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := models.FormatXML
	if query.Get("gzip") == "1" {
		format = models.FormatGzip
	}
	ttl := ParseTTL(query.Get("ttl"), s.defaultTTL)

	resp, err := s.svc.Respond(r.Context(), format, ttl)
	if err != nil {
		logger.Log.WithField("request_id", RequestID(r.Context())).Errorf("EPG request failed: %v", err)
		http.Error(w, "Worker error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", resp.ContentType)
	if resp.ContentEncoding != "" {
		h.Set("Content-Encoding", resp.ContentEncoding)
	}
	h.Set("Cache-Control", resp.CacheControl)
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Body)
}

// MaxTTL - верхняя граница ttl; большие значения урезаются до неё.
const MaxTTL = 365 * 24 * time.Hour

// ParseTTL разбирает ttl в секундах. Пустое, нечисловое или неположительное
// значение заменяется fallback, слишком большое урезается до MaxTTL.
func ParseTTL(raw string, fallback time.Duration) time.Duration {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > int64(MaxTTL/time.Second) {
		return MaxTTL
	}
	return time.Duration(n) * time.Second
}
