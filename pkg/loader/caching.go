package loader

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alphapipe/alphapipe/pkg/pipeline"
)

// Caching wraps a Loader and serves repeated identical requests from a
// cache. Concurrent requests for the same (column, sessions, assets) key
// are coalesced into a single underlying call; later callers wait for the
// first caller's result.
//
// Cached frames are shared between callers and must not be mutated. The
// execution engine clones frames before masking for this reason.
type Caching struct {
	inner Loader

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	done  chan struct{}
	frame *pipeline.Frame
	err   error
}

// NewCaching wraps inner with per-key caching and request coalescing.
// The cache grows for the lifetime of the wrapper, so a fresh wrapper is
// created for each run.
func NewCaching(inner Loader) *Caching {
	return &Caching{
		inner:   inner,
		entries: make(map[string]*cacheEntry),
	}
}

// GetWindow implements Loader.
func (c *Caching) GetWindow(ctx context.Context, column string, sessions []time.Time, assets []string) (*pipeline.Frame, error) {
	key := requestKey(column, sessions, assets)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		select {
		case <-e.done:
			return e.frame, e.err
		case <-ctx.Done():
			return nil, NewFailure(column, sessions, assets, ctx.Err())
		}
	}
	e := &cacheEntry{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	e.frame, e.err = c.inner.GetWindow(ctx, column, sessions, assets)
	close(e.done)
	return e.frame, e.err
}

// Len returns the number of distinct requests served so far.
func (c *Caching) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func requestKey(column string, sessions []time.Time, assets []string) string {
	var b strings.Builder
	b.WriteString(column)
	b.WriteByte('|')
	if len(sessions) > 0 {
		b.WriteString(sessions[0].Format("2006-01-02"))
		b.WriteByte(':')
		b.WriteString(sessions[len(sessions)-1].Format("2006-01-02"))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(len(sessions)))
	}
	b.WriteByte('|')
	for _, asset := range assets {
		b.WriteString(asset)
		b.WriteByte(',')
	}
	return b.String()
}
