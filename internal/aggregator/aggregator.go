package aggregator

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"time"

	"epg_aggregator/internal/cache"
	"epg_aggregator/internal/logger"
	"epg_aggregator/internal/merger"
	"epg_aggregator/internal/metrics"
	"epg_aggregator/internal/models"
)

// Fetcher загружает набор источников; сбой отдельного источника
// отражается в RawDocument, а не в ошибке.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []string) []models.RawDocument
}

// Recorder сохраняет итог загрузки источника. Необязателен.
type Recorder interface {
	RecordFetch(ctx context.Context, source string, fetchErr error) error
}

// Response - тело ответа и заголовки для него.
type Response struct {
	Body            []byte
	ContentType     string
	ContentEncoding string
	CacheControl    string
	CreatedAt       time.Time
	Hit             bool
}

// Service отдаёт объединённую программу из кеша, а при промахе
// запускает загрузку и слияние всех источников.
type Service struct {
	fetcher  Fetcher
	cache    *cache.Cache
	sources  []string
	recorder Recorder
	log      *logger.Entry
}

// NewService создаёт Service. Порядок sources задаёт приоритет при дедупликации.
func NewService(f Fetcher, c *cache.Cache, sources []string) *Service {
	return &Service{
		fetcher: f,
		cache:   c,
		sources: append([]string(nil), sources...),
		log:     logger.Component("aggregator"),
	}
}

// SetRecorder подключает журнал загрузок.
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// Respond возвращает программу в формате format, не старше ttl.
// Ошибка означает сбой самого слияния или сжатия, а не отдельных источников.
func (s *Service) Respond(ctx context.Context, format models.Format, ttl time.Duration) (*Response, error) {
	key := cache.Key{Format: format, TTL: ttl}
	log := s.log.WithField("key", key.String())

	entry, hit, err := s.cache.GetOrLoad(ctx, key, func(ctx context.Context) (*cache.Entry, error) {
		// Запуск общий для всех ожидающих, отмена одного клиента его не прерывает.
		return s.build(context.WithoutCancel(ctx), format)
	})
	if err != nil {
		log.Errorf("Pipeline failed: %v", err)
		return nil, err
	}
	if hit {
		log.Debug("Served from cache")
	}

	return &Response{
		Body:            entry.Data,
		ContentType:     entry.ContentType,
		ContentEncoding: entry.ContentEncoding,
		CacheControl:    fmt.Sprintf("max-age=%d", int64(ttl/time.Second)),
		CreatedAt:       entry.CreatedAt,
		Hit:             hit,
	}, nil
}

func (s *Service) build(ctx context.Context, format models.Format) (entry *cache.Entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			entry, err = nil, fmt.Errorf("merge pipeline panic: %v", r)
		}
	}()

	start := time.Now()
	docs := s.fetcher.FetchAll(ctx, s.sources)
	s.record(ctx, docs)

	feed, stats := merger.Merge(docs)
	observe(stats)

	data := feed.Encode()
	entry = &cache.Entry{Data: data, ContentType: models.ContentTypeXML}
	if format == models.FormatGzip {
		gz, err := compress(data)
		if err != nil {
			return nil, fmt.Errorf("compress feed: %w", err)
		}
		entry = &cache.Entry{Data: gz, ContentType: models.ContentTypeGzip, ContentEncoding: "gzip"}
	}

	metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	s.log.WithFields(logger.Fields{
		"format":     format.String(),
		"sources":    stats.Documents,
		"failed":     stats.Absent,
		"channels":   stats.Channels,
		"programmes": stats.Programmes,
		"recovered":  stats.Recovered,
		"bytes":      len(entry.Data),
		"duration":   time.Since(start).String(),
	}).Info("Merged EPG feed")

	return entry, nil
}

func (s *Service) record(ctx context.Context, docs []models.RawDocument) {
	if s.recorder == nil {
		return
	}
	for _, d := range docs {
		if err := s.recorder.RecordFetch(ctx, d.Source, d.Err); err != nil {
			s.log.WithField("url", d.Source).Warnf("Failed to record fetch: %v", err)
		}
	}
}

func observe(stats merger.Stats) {
	metrics.MergedFragments.WithLabelValues("channel").Set(float64(stats.Channels))
	metrics.MergedFragments.WithLabelValues("programme").Set(float64(stats.Programmes))
	metrics.DroppedFragments.WithLabelValues("channel", "duplicate").Add(float64(stats.DuplicateChannels))
	metrics.DroppedFragments.WithLabelValues("programme", "duplicate").Add(float64(stats.DuplicateProgrammes))
	metrics.DroppedFragments.WithLabelValues("channel", "invalid").Add(float64(stats.InvalidChannels))
	metrics.DroppedFragments.WithLabelValues("programme", "invalid").Add(float64(stats.InvalidProgrammes))
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
