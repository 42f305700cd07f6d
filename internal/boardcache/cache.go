package boardcache

import (
	"context"
	"strings"
	"sync"

	"planka-mail-bridge/internal/logging"
	"planka-mail-bridge/internal/planka"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PreferredListName is matched case-insensitively when picking a board's default list
const PreferredListName = "mail"

// BoardFetcher loads a board with its lists
type BoardFetcher interface {
	GetBoard(ctx context.Context, id int64) (*planka.BoardResponse, error)
}

// Entry is a resolved board and the list cards go to when the email names none
type Entry struct {
	Board         *planka.BoardResponse
	PreferredList *planka.List
}

// Cache maps board ids to resolved boards for the duration of one batch.
// A nil entry marks a board that failed to resolve; a missing key means the
// board was never looked up.
type Cache struct {
	fetcher     BoardFetcher
	concurrency int
	log         *logrus.Entry

	mu      sync.Mutex
	entries map[int64]*Entry
}

// Option customizes a Cache
type Option func(*Cache)

// WithConcurrency bounds how many boards are fetched at once
func WithConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the log entry used for lookup diagnostics
func WithLogger(log *logrus.Entry) Option {
	return func(c *Cache) {
		c.log = log
	}
}

// New creates an empty cache
func New(fetcher BoardFetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher:     fetcher,
		concurrency: 1,
		log:         logrus.NewEntry(logging.Log),
		entries:     make(map[int64]*Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Prefetch fetches every distinct board id not cached yet, each exactly once.
// It returns when all lookups have finished; failures become negative entries.
func (c *Cache) Prefetch(ctx context.Context, ids []int64) {
	pending := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))

	c.mu.Lock()
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, cached := c.entries[id]; cached {
			continue
		}
		pending = append(pending, id)
	}
	c.mu.Unlock()

	c.log.Tracef("Prefetching %d boards", len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, id := range pending {
		g.Go(func() error {
			c.store(id, c.fetch(gctx, id))
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Cache) fetch(ctx context.Context, id int64) *Entry {
	locallog := c.log.WithField("board_id", id)

	board, err := c.fetcher.GetBoard(ctx, id)
	if err != nil {
		locallog.WithError(err).Warn("Error caching board")
		return nil
	}

	entry := &Entry{
		Board:         board,
		PreferredList: PreferredList(board.Lists()),
	}
	if entry.PreferredList != nil {
		locallog.Tracef("Cached board, preferred list %d (%s)", entry.PreferredList.ID, entry.PreferredList.Name)
	} else {
		locallog.Trace("Cached board without lists")
	}
	return entry
}

func (c *Cache) store(id int64, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = entry
}

// Resolve returns the cached entry for a board. Boards that failed to resolve
// and boards never prefetched are both reported as absent.
func (c *Cache) Resolve(id int64) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.entries[id]
	return entry, entry != nil
}

// Negative reports whether the board was looked up and failed
func (c *Cache) Negative(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, cached := c.entries[id]
	return cached && entry == nil
}

// Len returns the number of looked up boards, negative entries included
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// PreferredList picks the list named "mail" (any case), else the first list, else nil
func PreferredList(lists []planka.List) *planka.List {
	if len(lists) == 0 {
		return nil
	}
	for i := range lists {
		if strings.EqualFold(lists[i].Name, PreferredListName) {
			return &lists[i]
		}
	}
	return &lists[0]
}
