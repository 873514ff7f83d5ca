package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

var ErrNotOpen = errors.New("workflow is not open")

// Registry keeps one open Controller per video.
type Registry struct {
	opts  Options
	loads singleflight.Group

	mu     sync.Mutex
	open   map[string]*Controller
	closed bool
}

func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, open: make(map[string]*Controller)}
}

// Open returns the controller of videoID, loading it on first use. Loads run
// outside the registry lock and concurrent opens of one video share a load.
// A controller that fails to load is not kept.
func (r *Registry) Open(ctx context.Context, videoID string) (*Controller, error) {
	if c, err := r.lookup(videoID); c != nil || err != nil {
		return c, err
	}
	v, err, _ := r.loads.Do(videoID, func() (any, error) {
		if c, err := r.lookup(videoID); c != nil || err != nil {
			return c, err
		}
		c := New(videoID, r.opts)
		if err := c.Load(ctx); err != nil {
			_ = c.Close(ctx)
			return nil, fmt.Errorf("open %s: %w", videoID, err)
		}
		r.mu.Lock()
		closed := r.closed
		if !closed {
			r.open[videoID] = c
		}
		r.mu.Unlock()
		if closed {
			_ = c.Close(ctx)
			return nil, ErrClosed
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Controller), nil
}

func (r *Registry) lookup(videoID string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	return r.open[videoID], nil
}

func (r *Registry) Get(videoID string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.open[videoID]
	if !ok {
		return nil, fmt.Errorf("video %s: %w", videoID, ErrNotOpen)
	}
	return c, nil
}

// IDs lists the open videos.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.open))
	for id := range r.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes and forgets the controller of videoID.
func (r *Registry) Close(ctx context.Context, videoID string) error {
	r.mu.Lock()
	c, ok := r.open[videoID]
	delete(r.open, videoID)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("video %s: %w", videoID, ErrNotOpen)
	}
	return c.Close(ctx)
}

// CloseAll closes every controller and refuses further opens.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	open := r.open
	r.open = make(map[string]*Controller)
	r.mu.Unlock()

	var errs []error
	for id, c := range open {
		if err := c.Close(ctx); err != nil {
			log.Printf("[Workflow] close %s: %v", id, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
