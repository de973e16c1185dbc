package core

// reference.go loads known-good template workbooks.
//
// A ReferenceSource yields the raw bytes of the reference file. The
// ReferenceCache parses each reference once per key and sheet and shares
// the resulting grid between controllers; concurrent first loads of the same
// key are collapsed into one fetch with singleflight.

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ReferenceSource yields the bytes of a reference workbook.
type ReferenceSource interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// FileSource reads the reference from a path on disk.
type FileSource struct {
	Path string
}

// Fetch reads the whole file.
func (s FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read reference %s: %w", s.Path, err)
	}
	return data, nil
}

func (s FileSource) String() string { return s.Path }

// DefaultReferenceTimeout bounds a single URLSource fetch.
const DefaultReferenceTimeout = 10 * time.Second

// maxReferenceSize caps the bytes read from a remote reference.
const maxReferenceSize = 32 << 20

// URLSource downloads the reference over HTTP.
type URLSource struct {
	URL     string
	Client  *http.Client  // nil uses http.DefaultClient
	Timeout time.Duration // 0 uses DefaultReferenceTimeout
}

// Fetch performs a GET and returns the body of a 200 response.
func (s URLSource) Fetch(ctx context.Context) ([]byte, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultReferenceTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build reference request: %w", err)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch reference %s: %w", s.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch reference %s: unexpected status %s", s.URL, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReferenceSize+1))
	if err != nil {
		return nil, fmt.Errorf("read reference %s: %w", s.URL, err)
	}
	if len(data) > maxReferenceSize {
		return nil, fmt.Errorf("reference %s exceeds %d bytes", s.URL, maxReferenceSize)
	}
	return data, nil
}

func (s URLSource) String() string { return s.URL }

// ReferenceLoadTimeout bounds a shared reference load. The load runs
// detached from the request that started it, so waiting uploads are not
// failed by the first caller's cancellation.
const ReferenceLoadTimeout = 30 * time.Second

// ReferenceCache holds parsed reference grids keyed by template and sheet.
//
// Every template key has a generation that Invalidate advances. A load only
// stores its grid if the generation it started under is still current, and
// loads of different generations never share a flight.
type ReferenceCache struct {
	group singleflight.Group

	mu    sync.RWMutex
	grids map[string]Grid
	gens  map[string]uint64
}

// NewReferenceCache creates an empty cache.
func NewReferenceCache() *ReferenceCache {
	return &ReferenceCache{
		grids: make(map[string]Grid),
		gens:  make(map[string]uint64),
	}
}

func cacheKey(key string, sheet int) string {
	return key + "#" + strconv.Itoa(sheet)
}

// Get returns the cached grid for key, fetching and parsing it from src on
// first use. Failed loads are not cached. Get returns early with ctx's error
// when ctx ends while the shared load is still running.
func (c *ReferenceCache) Get(ctx context.Context, key string, src ReferenceSource, sheet int) (Grid, error) {
	ck := cacheKey(key, sheet)

	c.mu.RLock()
	grid, ok := c.grids[ck]
	gen := c.gens[key]
	c.mu.RUnlock()
	if ok {
		return grid, nil
	}

	flight := ck + "@" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(flight, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ReferenceLoadTimeout)
		defer cancel()

		g, err := LoadReference(loadCtx, src, sheet)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.gens[key] == gen {
			c.grids[ck] = g
		}
		c.mu.Unlock()
		return g, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Grid), nil
	}
}

// Invalidate drops every cached sheet of key. Loads of key still in flight
// finish for their callers but are not stored.
func (c *ReferenceCache) Invalidate(key string) {
	prefix := key + "#"

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[key]++
	for k := range c.grids {
		if strings.HasPrefix(k, prefix) {
			delete(c.grids, k)
		}
	}
}

// Len returns the number of cached grids.
func (c *ReferenceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.grids)
}

// LoadReference fetches and parses a reference without caching.
func LoadReference(ctx context.Context, src ReferenceSource, sheet int) (Grid, error) {
	if src == nil {
		return nil, fmt.Errorf("no reference source configured")
	}
	data, err := src.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	grid, err := ParseGrid(data, sheet)
	if err != nil {
		// Not wrapped: a broken reference must not surface as the user's parse error.
		return nil, fmt.Errorf("parse reference: %v", err)
	}
	return grid, nil
}
