package fetcher

import (
	"context"
	"time"

	"epg_aggregator/internal/models"

	"golang.org/x/sync/errgroup"
)

// FetchAll загружает все источники параллельно, не более limit одновременно,
// и ждёт завершения каждого. Результаты идут в порядке sources.
func (f *Fetcher) FetchAll(ctx context.Context, sources []string) []models.RawDocument {
	log := f.log.WithFields(map[string]interface{}{
		"sources":     len(sources),
		"concurrency": f.limit,
	})
	log.Info("Starting fetch cycle")
	start := time.Now()

	docs := make([]models.RawDocument, len(sources))

	var g errgroup.Group
	g.SetLimit(f.limit)
	for i, source := range sources {
		g.Go(func() error {
			docs[i] = f.Fetch(ctx, source)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, d := range docs {
		if d.Absent() {
			failed++
		}
	}
	log.WithFields(map[string]interface{}{
		"failed":   failed,
		"duration": time.Since(start).String(),
	}).Info("Fetch cycle complete")

	return docs
}
