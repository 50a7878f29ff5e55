package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"epg_aggregator/internal/logger"
	"epg_aggregator/internal/metrics"
	"epg_aggregator/internal/models"

	"golang.org/x/sync/singleflight"
)

// Key - формат выдачи и окно свежести. Разные TTL одного формата
// кешируются независимо.
type Key struct {
	Format models.Format
	TTL    time.Duration
}

func (k Key) String() string {
	return fmt.Sprintf("merged-epg-v1-%s-%d", k.Format, int64(k.TTL/time.Second))
}

// Entry - готовый ответ. После Put не изменяется.
type Entry struct {
	Data            []byte
	ContentType     string
	ContentEncoding string
	CreatedAt       time.Time
}

// Loader строит новую запись при промахе.
type Loader func(ctx context.Context) (*Entry, error)

// Cache - ограниченное по размеру хранилище ответов в памяти.
// Все методы безопасны для конкурентного использования.
type Cache struct {
	mu       sync.Mutex
	entries  map[Key]*Entry
	capacity int
	now      func() time.Time
	group    singleflight.Group
	log      *logger.Entry
}

// New создаёт кеш на capacity записей (минимум одна).
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		entries:  make(map[Key]*Entry),
		capacity: capacity,
		now:      time.Now,
		log:      logger.Component("cache"),
	}
}

// SetClock подменяет источник времени, нужно тестам.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get возвращает запись, если она есть и её возраст меньше key.TTL.
// Устаревшая запись удаляется.
func (c *Cache) Get(key Key) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && c.now().Sub(e.CreatedAt) < key.TTL {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return e, true
	}
	if ok {
		delete(c.entries, key)
		metrics.CacheEntries.Set(float64(len(c.entries)))
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	return nil, false
}

// Put целиком заменяет запись по ключу. Нулевой CreatedAt заменяется текущим временем.
func (c *Cache) Put(key Key, e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = c.now()
	}
	c.entries[key] = e
	c.evictLocked()
	metrics.CacheEntries.Set(float64(len(c.entries)))
}

// evictLocked сначала убирает устаревшие записи, затем самые старые,
// пока размер не уложится в capacity.
func (c *Cache) evictLocked() {
	if len(c.entries) <= c.capacity {
		return
	}
	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.CreatedAt) >= k.TTL {
			delete(c.entries, k)
		}
	}
	for len(c.entries) > c.capacity {
		var (
			oldestKey Key
			oldest    *Entry
		)
		for k, e := range c.entries {
			if oldest == nil || e.CreatedAt.Before(oldest.CreatedAt) {
				oldestKey, oldest = k, e
			}
		}
		delete(c.entries, oldestKey)
		c.log.WithField("key", oldestKey.String()).Debug("Evicted cache entry")
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetOrLoad отдаёт свежую запись или строит её через load. Одновременные
// промахи по одному ключу выполняют load один раз и получают общий результат.
// hit сообщает, что запись взята из кеша без загрузки.
func (c *Cache) GetOrLoad(ctx context.Context, key Key, load Loader) (e *Entry, hit bool, err error) {
	if e, ok := c.Get(key); ok {
		return e, true, nil
	}

	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		// Пока ждали очередь, запись мог положить предыдущий запуск.
		if e, ok := c.peek(key); ok {
			return e, nil
		}
		e, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(key, e)
		return e, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		if res.Shared {
			metrics.CacheLookups.WithLabelValues("shared").Inc()
		}
		return res.Val.(*Entry), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// peek как Get, но без учёта в метриках и без удаления.
func (c *Cache) peek(key Key) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok && c.now().Sub(e.CreatedAt) < key.TTL {
		return e, true
	}
	return nil, false
}
