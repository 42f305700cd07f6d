package boardcache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"planka-mail-bridge/internal/planka"
)

type MockFetcher struct {
	mu     sync.Mutex
	Boards map[int64][]planka.List
	Errors map[int64]error
	Calls  map[int64]int
}

func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		Boards: map[int64][]planka.List{},
		Errors: map[int64]error{},
		Calls:  map[int64]int{},
	}
}

func (m *MockFetcher) GetBoard(_ context.Context, id int64) (*planka.BoardResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[id]++

	if err, ok := m.Errors[id]; ok {
		return nil, err
	}
	lists, ok := m.Boards[id]
	if !ok {
		return nil, &planka.StatusError{StatusCode: http.StatusNotFound, Method: http.MethodGet}
	}
	board := &planka.BoardResponse{Item: planka.Board{ID: planka.ID(id)}}
	board.Included.Lists = lists
	return board, nil
}

func TestPreferredList(t *testing.T) {
	tests := []struct {
		name     string
		lists    []planka.List
		expected string
	}{
		{
			name:     "Mail list wins even if not first",
			lists:    []planka.List{{ID: 1, Name: "Backlog"}, {ID: 2, Name: "Mail"}, {ID: 3, Name: "Done"}},
			expected: "Mail",
		},
		{
			name:     "Match is case insensitive",
			lists:    []planka.List{{ID: 1, Name: "Backlog"}, {ID: 2, Name: "MAIL"}},
			expected: "MAIL",
		},
		{
			name:     "First mail match wins",
			lists:    []planka.List{{ID: 1, Name: "mail"}, {ID: 2, Name: "Mail"}},
			expected: "mail",
		},
		{
			name:     "Falls back to first list",
			lists:    []planka.List{{ID: 1, Name: "Backlog"}, {ID: 2, Name: "Done"}},
			expected: "Backlog",
		},
		{
			name:     "Partial name is not a match",
			lists:    []planka.List{{ID: 1, Name: "Backlog"}, {ID: 2, Name: "Mailbox"}},
			expected: "Backlog",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PreferredList(tt.lists)
			if got == nil {
				t.Fatal("PreferredList() = nil")
			}
			if got.Name != tt.expected {
				t.Errorf("PreferredList() = %s, want %s", got.Name, tt.expected)
			}
		})
	}

	if got := PreferredList(nil); got != nil {
		t.Errorf("PreferredList(nil) = %+v, want nil", got)
	}
}

func TestPrefetch_FetchesEachBoardOnce(t *testing.T) {
	fetcher := NewMockFetcher()
	fetcher.Boards[7] = []planka.List{{ID: 3, Name: "Todo"}, {ID: 9, Name: "Mail"}}
	fetcher.Boards[8] = []planka.List{{ID: 4, Name: "Inbox"}}

	cache := New(fetcher, WithConcurrency(4))
	cache.Prefetch(context.Background(), []int64{7, 8, 7, 7, 8})

	if fetcher.Calls[7] != 1 || fetcher.Calls[8] != 1 {
		t.Errorf("Expected one call per board, got %v", fetcher.Calls)
	}

	entry, ok := cache.Resolve(7)
	if !ok {
		t.Fatal("Expected board 7 to resolve")
	}
	if entry.PreferredList == nil || entry.PreferredList.ID != 9 {
		t.Errorf("Expected preferred list 9, got %+v", entry.PreferredList)
	}

	entry, ok = cache.Resolve(8)
	if !ok || entry.PreferredList.ID != 4 {
		t.Errorf("Expected board 8 with preferred list 4, got %+v", entry)
	}

	// A second prefetch in the same batch hits the cache
	cache.Prefetch(context.Background(), []int64{7, 8})
	if fetcher.Calls[7] != 1 || fetcher.Calls[8] != 1 {
		t.Errorf("Expected cached boards not to be fetched again, got %v", fetcher.Calls)
	}
}

func TestPrefetch_NegativeEntries(t *testing.T) {
	fetcher := NewMockFetcher()
	fetcher.Errors[5] = errors.New("connection refused")

	cache := New(fetcher)
	cache.Prefetch(context.Background(), []int64{5, 6})

	for _, id := range []int64{5, 6} {
		if _, ok := cache.Resolve(id); ok {
			t.Errorf("Expected board %d not to resolve", id)
		}
		if !cache.Negative(id) {
			t.Errorf("Expected board %d to be a negative entry", id)
		}
	}

	cache.Prefetch(context.Background(), []int64{5, 6})
	if fetcher.Calls[5] != 1 || fetcher.Calls[6] != 1 {
		t.Errorf("Expected failed boards not to be fetched again, got %v", fetcher.Calls)
	}
	if cache.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", cache.Len())
	}
}

func TestPrefetch_BoardWithoutLists(t *testing.T) {
	fetcher := NewMockFetcher()
	fetcher.Boards[1] = nil

	cache := New(fetcher)
	cache.Prefetch(context.Background(), []int64{1})

	entry, ok := cache.Resolve(1)
	if !ok {
		t.Fatal("Expected board without lists to resolve")
	}
	if entry.PreferredList != nil {
		t.Errorf("Expected no preferred list, got %+v", entry.PreferredList)
	}
	if cache.Negative(1) {
		t.Error("Board without lists is not a negative entry")
	}
}

func TestResolve_UnknownBoard(t *testing.T) {
	cache := New(NewMockFetcher())

	if _, ok := cache.Resolve(42); ok {
		t.Error("Expected unknown board not to resolve")
	}
	if cache.Negative(42) {
		t.Error("Unknown board must not be reported as negative")
	}
}
