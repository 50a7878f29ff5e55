package fetcher

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"epg_aggregator/internal/logger"
	"epg_aggregator/internal/metrics"
	"epg_aggregator/internal/models"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/html/charset"
)

const (
	userAgent    = "epg-aggregator/1.0"
	maxRedirects = 10

	// DefaultMaxBody - предел размера документа после распаковки.
	DefaultMaxBody int64 = 512 << 20
)

var (
	// ErrStatus - источник ответил не 2xx.
	ErrStatus = errors.New("unexpected status")
	// ErrCorrupt - тело помечено как сжатое, но распаковать его не удалось.
	ErrCorrupt = errors.New("corrupt compressed payload")
	// ErrTooLarge - документ больше MaxBody.
	ErrTooLarge = errors.New("document too large")
)

var (
	utf8BOM        = []byte{0xEF, 0xBB, 0xBF}
	xmlDeclPattern = regexp.MustCompile(`^\s*<\?xml[^>]*\bencoding\s*=\s*["']([A-Za-z0-9._:-]+)["']`)
)

// Options задаёт параметры Fetcher. Нулевые значения заменяются умолчаниями.
type Options struct {
	Timeout     time.Duration
	Concurrency int
	RetryMax    int
	RetryWait   time.Duration
	MaxBody     int64
}

// Fetcher загружает XMLTV-документы, снимает gzip и приводит текст к UTF-8.
type Fetcher struct {
	client  *retryablehttp.Client
	timeout time.Duration
	limit   int
	maxBody int64
	log     *logger.Entry
}

// New создаёт Fetcher с HTTP-клиентом, повторяющим запросы при 5xx и сетевых ошибках.
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = time.Second
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = DefaultMaxBody
	}

	log := logger.Component("fetcher")

	client := retryablehttp.NewClient()
	client.Logger = retryLogger{entry: log}
	client.RetryMax = opts.RetryMax
	client.RetryWaitMin = opts.RetryWait
	client.RetryWaitMax = 5 * opts.RetryWait
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.HTTPClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}

	return &Fetcher{
		client:  client,
		timeout: opts.Timeout,
		limit:   opts.Concurrency,
		maxBody: opts.MaxBody,
		log:     log,
	}
}

// Fetch загружает один источник. Ошибка не возвращается отдельно, а кладётся
// в RawDocument.Err: сбой одного источника не должен прерывать остальные.
func (f *Fetcher) Fetch(ctx context.Context, source string) models.RawDocument {
	log := f.log.WithField("url", source)

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	body, err := f.get(ctx, source)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())

	outcome := classify(err)
	metrics.FetchTotal.WithLabelValues(outcome).Inc()

	if err != nil {
		log.WithField("outcome", outcome).Warnf("Fetch failed: %v", err)
		return models.RawDocument{Source: source, Err: err}
	}

	log.WithFields(logger.Fields{
		"bytes":    len(body),
		"duration": time.Since(start).String(),
	}).Debug("Fetched EPG source")
	return models.RawDocument{Source: source, Body: body}
}

func (f *Fetcher) get(ctx context.Context, source string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	// Заголовок выставлен явно, чтобы транспорт не распаковывал тело
	// сам и не стирал Content-Encoding.
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := f.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("get %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	raw, err := readLimited(resp.Body, f.maxBody)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if IsCompressed(source, resp.Header) {
		raw, err = decompress(raw, f.maxBody)
		if err != nil {
			return nil, err
		}
	}

	return toUTF8(raw)
}

// readLimited читает не больше limit байт; более длинный поток - ErrTooLarge.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, limit)
	}
	return out, nil
}

// IsCompressed сообщает, что тело нужно распаковать. Достаточно любого
// признака: расширение .gz в пути, Content-Encoding gzip или gzip-тип содержимого.
func IsCompressed(source string, header http.Header) bool {
	if u, err := url.Parse(source); err == nil {
		if strings.HasSuffix(strings.ToLower(u.Path), ".gz") {
			return true
		}
	}
	if strings.Contains(strings.ToLower(header.Get("Content-Encoding")), "gzip") {
		return true
	}
	ct := strings.ToLower(header.Get("Content-Type"))
	return strings.Contains(ct, "application/gzip") || strings.Contains(ct, "application/x-gzip")
}

// decompress снимает gzip; если заголовок gzip не распознан, пробует zlib.
func decompress(raw []byte, limit int64) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		out, zerr := inflate(raw, limit)
		if zerr == nil || errors.Is(zerr, ErrTooLarge) {
			return out, zerr
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()

	out, err := readLimited(zr, limit)
	if errors.Is(err, ErrTooLarge) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}

func inflate(raw []byte, limit int64) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return readLimited(zr, limit)
}

// toUTF8 убирает BOM, перекодирует документ, если XML-декларация
// объявляет кодировку, отличную от UTF-8, и вычищает байты, недопустимые в XML.
func toUTF8(body []byte) ([]byte, error) {
	body = bytes.TrimPrefix(body, utf8BOM)

	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	m := xmlDeclPattern.FindSubmatch(head)
	if m == nil {
		return sanitize(body), nil
	}

	label := strings.ToLower(string(m[1]))
	switch label {
	case "utf-8", "utf8", "us-ascii", "ascii":
		return sanitize(body), nil
	}

	enc, _ := charset.Lookup(label)
	if enc == nil {
		return sanitize(body), nil
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", label, err)
	}
	return sanitize(out), nil
}

// sanitize заменяет битые UTF-8 последовательности на U+FFFD и удаляет
// управляющие символы C0, кроме \t, \n и \r.
func sanitize(body []byte) []byte {
	if utf8.Valid(body) && !hasControl(body) {
		return body
	}
	body = bytes.ToValidUTF8(body, []byte(string(utf8.RuneError)))
	out := body[:0]
	for _, b := range body {
		if isControl(b) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func hasControl(body []byte) bool {
	for _, b := range body {
		if isControl(b) {
			return true
		}
	}
	return false
}

func isControl(b byte) bool {
	return b < 0x20 && b != '\t' && b != '\n' && b != '\r'
}

func classify(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrStatus):
		return metrics.OutcomeStatus
	case errors.Is(err, ErrCorrupt):
		return metrics.OutcomeCorrupt
	case errors.Is(err, ErrTooLarge):
		return metrics.OutcomeTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeError
	}
}

// retryLogger пропускает сообщения retryablehttp через logrus.
type retryLogger struct {
	entry *logger.Entry
}

func (l retryLogger) with(keysAndValues []interface{}) *logger.Entry {
	fields := make(logger.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return l.entry.WithFields(fields)
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Error(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Warn(msg)
}
