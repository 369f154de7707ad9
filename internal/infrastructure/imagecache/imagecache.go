package imagecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unsafe"

	"github.com/coocood/freecache"

	"github.com/nerrad567/gray-logic-roku/internal/infrastructure/config"
)

const (
	// maxImageSize bounds a single downloaded image.
	maxImageSize = 4 << 20

	bytesPerMB = 1024 * 1024

	defaultFetchTimeout = 10 * time.Second
)

// Errors returned by Fetch.
var (
	ErrFetchFailed      = errors.New("imagecache: fetch failed")
	ErrUnexpectedStatus = errors.New("imagecache: unexpected status")
	ErrTooLarge         = errors.New("imagecache: image too large")
)

// Cache stores raw entries keyed by URL. Set reports entries it refused.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
}

// HitRecorder counts cache efficiency. Satisfied by metrics.Recorder.
type HitRecorder interface {
	IncImageCacheHit()
	IncImageCacheMiss()

	// IncImageCacheSkip counts fetched images the cache refused to store.
	IncImageCacheSkip()
}

// Fetcher downloads images over HTTP and keeps recent ones in memory.
//
// Thread Safety: safe for concurrent use.
type Fetcher struct {
	http    *http.Client
	cache   Cache
	metrics HitRecorder
}

// New builds a Fetcher from configuration. A disabled cache still fetches.
func New(cfg config.ImageCacheConfig, ttl, fetchTimeout time.Duration, metrics HitRecorder) *Fetcher {
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}

	var cache Cache = noopCache{}
	if cfg.Enabled && cfg.SizeMB > 0 {
		cache = NewFreeCache(cfg.SizeMB*bytesPerMB, ttl)
	}

	return NewFetcher(&http.Client{Timeout: fetchTimeout}, cache, metrics)
}

// NewFetcher assembles a Fetcher from explicit parts. metrics may be nil.
func NewFetcher(client *http.Client, cache Cache, metrics HitRecorder) *Fetcher {
	if cache == nil {
		cache = noopCache{}
	}
	return &Fetcher{http: client, cache: cache, metrics: metrics}
}

// Fetch returns the image at url and its content type, serving from cache
// when possible.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if entry, ok := f.cache.Get(url); ok {
		if data, contentType, ok := decodeEntry(entry); ok {
			f.recordHit(true)
			return data, contentType, nil
		}
	}
	f.recordHit(false)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if len(data) > maxImageSize {
		return nil, "", ErrTooLarge
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	if err := f.cache.Set(url, encodeEntry(data, contentType)); err != nil && f.metrics != nil {
		f.metrics.IncImageCacheSkip()
	}
	return data, contentType, nil
}

func (f *Fetcher) recordHit(hit bool) {
	if f.metrics == nil {
		return
	}
	if hit {
		f.metrics.IncImageCacheHit()
	} else {
		f.metrics.IncImageCacheMiss()
	}
}

// Entries are stored as "<content type>\x00<bytes>".
func encodeEntry(data []byte, contentType string) []byte {
	entry := make([]byte, 0, len(contentType)+1+len(data))
	entry = append(entry, contentType...)
	entry = append(entry, 0)
	return append(entry, data...)
}

func decodeEntry(entry []byte) ([]byte, string, bool) {
	i := bytes.IndexByte(entry, 0)
	if i < 0 {
		return nil, "", false
	}
	return entry[i+1:], string(entry[:i]), true
}

// FreeCache is a Cache backed by freecache with a fixed TTL.
type FreeCache struct {
	cache *freecache.Cache
	ttl   int
}

// NewFreeCache allocates a cache of sizeBytes. Entries expire after ttl;
// a ttl under one second means entries never expire.
func NewFreeCache(sizeBytes int, ttl time.Duration) *FreeCache {
	return &FreeCache{
		cache: freecache.NewCache(sizeBytes),
		ttl:   int(ttl.Seconds()),
	}
}

// unsafeStringToBytes converts without allocation. freecache copies keys,
// so the result is never retained.
func unsafeStringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// Get returns the entry stored under key, or false when it is missing or
// expired.
func (c *FreeCache) Get(key string) ([]byte, bool) {
	val, err := c.cache.Get(unsafeStringToBytes(key))
	if err != nil {
		return nil, false
	}
	return val, true
}

// Set stores value under key. Entries larger than 1/1024 of the cache size
// are refused with freecache.ErrLargeEntry.
func (c *FreeCache) Set(key string, value []byte) error {
	return c.cache.Set(unsafeStringToBytes(key), value, c.ttl)
}

// EntryCount reports the number of cached entries.
func (c *FreeCache) EntryCount() int64 {
	return c.cache.EntryCount()
}

type noopCache struct{}

func (noopCache) Get(string) ([]byte, bool) { return nil, false }
func (noopCache) Set(string, []byte) error  { return nil }
