package dispatch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"planka-mail-bridge/internal/models"
	"planka-mail-bridge/internal/planka"
)

type createCall struct {
	ListID int64
	Req    planka.CreateCardRequest
}

type updateCall struct {
	CardID int64
	Req    planka.UpdateCardRequest
}

type MockAPI struct {
	mu sync.Mutex

	Boards      map[int64][]planka.List
	BoardErrors map[int64]error
	CreateErr   error
	UpdateErr   error

	BoardCalls  map[int64]int
	CreateCalls []createCall
	UpdateCalls []updateCall
	nextCardID  int64
}

func NewMockAPI() *MockAPI {
	return &MockAPI{
		Boards:      map[int64][]planka.List{},
		BoardErrors: map[int64]error{},
		BoardCalls:  map[int64]int{},
		nextCardID:  100,
	}
}

func (m *MockAPI) GetBoard(_ context.Context, id int64) (*planka.BoardResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BoardCalls[id]++

	if err, ok := m.BoardErrors[id]; ok {
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

func (m *MockAPI) CreateCard(_ context.Context, listID int64, req planka.CreateCardRequest) (*planka.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls = append(m.CreateCalls, createCall{ListID: listID, Req: req})

	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.nextCardID++
	return &planka.Card{ID: planka.ID(m.nextCardID), ListID: planka.ID(listID), Name: req.Name}, nil
}

func (m *MockAPI) UpdateCard(_ context.Context, cardID int64, req planka.UpdateCardRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls = append(m.UpdateCalls, updateCall{CardID: cardID, Req: req})
	return m.UpdateErr
}

func int64Ptr(v int64) *int64 {
	return &v
}

func newPipeline(t *testing.T, api BoardAPI, opts ...Option) *Pipeline {
	t.Helper()
	p, err := NewPipeline(api, opts...)
	if err != nil {
		t.Fatalf("NewPipeline() error: %v", err)
	}
	return p
}

func TestNewPipeline_NilClient(t *testing.T) {
	if _, err := NewPipeline(nil); !errors.Is(err, ErrNilClient) {
		t.Errorf("NewPipeline(nil) error = %v, want %v", err, ErrNilClient)
	}
}

func TestProcess_Empty(t *testing.T) {
	api := NewMockAPI()
	results := newPipeline(t, api).Process(context.Background(), nil)

	if len(results) != 0 {
		t.Errorf("Expected no results, got %d", len(results))
	}
	if len(api.BoardCalls) != 0 || len(api.CreateCalls) != 0 {
		t.Error("Expected no API calls for an empty batch")
	}
}

func TestProcess_BoardScenario(t *testing.T) {
	api := NewMockAPI()
	api.Boards[7] = []planka.List{{ID: 3, Name: "Todo"}, {ID: 9, Name: "Mail"}}

	records := []models.EmailRecord{
		{UID: 1, Title: "Explicit list", BoardID: int64Ptr(7), ListID: int64Ptr(3)},
		{UID: 2, Title: "Preferred list", BoardID: int64Ptr(7)},
	}

	results := newPipeline(t, api).Process(context.Background(), records)

	if api.BoardCalls[7] != 1 {
		t.Errorf("Expected board 7 to be fetched once, got %d", api.BoardCalls[7])
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}

	expectedLists := []int64{3, 9}
	for i, r := range results {
		if r.Disposition != models.Accepted {
			t.Errorf("Result %d: disposition = %s, reason %q", i, r.Disposition, r.Reason)
		}
		if r.ListID != expectedLists[i] {
			t.Errorf("Result %d: list = %d, want %d", i, r.ListID, expectedLists[i])
		}
		if r.Record.UID != records[i].UID {
			t.Errorf("Result %d: uid = %d, want %d", i, r.Record.UID, records[i].UID)
		}
		if r.CardID == 0 {
			t.Errorf("Result %d: missing card id", i)
		}
	}
	if len(api.UpdateCalls) != 0 {
		t.Errorf("Expected no updates for records without body, got %d", len(api.UpdateCalls))
	}
}

func TestProcess_NoBoardMakesNoCalls(t *testing.T) {
	api := NewMockAPI()
	records := []models.EmailRecord{{UID: 1, Title: "Stray email"}}

	results := newPipeline(t, api).Process(context.Background(), records)

	if results[0].Disposition != models.Rejected || results[0].Reason != ReasonNoBoard {
		t.Errorf("Unexpected result %+v", results[0])
	}
	if len(api.BoardCalls) != 0 || len(api.CreateCalls) != 0 || len(api.UpdateCalls) != 0 {
		t.Error("Expected no API calls for a record without board id")
	}
}

func TestProcess_UnresolvedBoardRejectsAll(t *testing.T) {
	api := NewMockAPI()
	api.BoardErrors[5] = errors.New("connection reset")

	records := []models.EmailRecord{
		{UID: 1, Title: "a", BoardID: int64Ptr(5)},
		{UID: 2, Title: "b", BoardID: int64Ptr(5), ListID: int64Ptr(11)},
		{UID: 3, Title: "c", BoardID: int64Ptr(6)},
	}

	results := newPipeline(t, api, WithPrefetchConcurrency(2)).Process(context.Background(), records)

	for i, r := range results {
		if r.Disposition != models.Rejected || r.Reason != ReasonBoardMissing {
			t.Errorf("Result %d: unexpected %+v", i, r)
		}
	}
	if api.BoardCalls[5] != 1 || api.BoardCalls[6] != 1 {
		t.Errorf("Expected one lookup per board, got %v", api.BoardCalls)
	}
	if len(api.CreateCalls) != 0 {
		t.Errorf("Expected no card creation, got %d", len(api.CreateCalls))
	}
}

func TestProcess_BoardWithoutLists(t *testing.T) {
	api := NewMockAPI()
	api.Boards[1] = nil

	records := []models.EmailRecord{
		{UID: 1, Title: "no list", BoardID: int64Ptr(1)},
		{UID: 2, Title: "explicit", BoardID: int64Ptr(1), ListID: int64Ptr(42)},
	}

	results := newPipeline(t, api).Process(context.Background(), records)

	if results[0].Disposition != models.Rejected || results[0].Reason != ReasonNoList {
		t.Errorf("Unexpected first result %+v", results[0])
	}
	if results[1].Disposition != models.Accepted || results[1].ListID != 42 {
		t.Errorf("Unexpected second result %+v", results[1])
	}
	if len(api.CreateCalls) != 1 || api.CreateCalls[0].ListID != 42 {
		t.Errorf("Expected one card in list 42, got %+v", api.CreateCalls)
	}
}

func TestProcess_CreateFailure(t *testing.T) {
	api := NewMockAPI()
	api.Boards[7] = []planka.List{{ID: 9, Name: "Mail"}}
	api.CreateErr = &planka.StatusError{StatusCode: http.StatusForbidden, Method: http.MethodPost}

	records := []models.EmailRecord{{UID: 1, Title: "t", Body: "body", BoardID: int64Ptr(7)}}
	results := newPipeline(t, api).Process(context.Background(), records)

	if results[0].Disposition != models.Rejected || results[0].Reason != ReasonCreateFailed {
		t.Errorf("Unexpected result %+v", results[0])
	}
	if len(api.CreateCalls) != 1 {
		t.Errorf("Expected a single create attempt, got %d", len(api.CreateCalls))
	}
	if len(api.UpdateCalls) != 0 {
		t.Error("Expected no update after a failed create")
	}
}

func TestProcess_BodyAndDueDate(t *testing.T) {
	due := time.Date(2024, time.March, 5, 14, 30, 0, 0, time.Local)

	api := NewMockAPI()
	api.Boards[7] = []planka.List{{ID: 9, Name: "Mail"}}

	records := []models.EmailRecord{
		{UID: 1, Title: "with date", Body: "details", BoardID: int64Ptr(7), Date: &due},
		{UID: 2, Title: "without date", Body: "more", BoardID: int64Ptr(7)},
	}
	results := newPipeline(t, api).Process(context.Background(), records)

	if len(api.UpdateCalls) != 2 {
		t.Fatalf("Expected 2 updates, got %d", len(api.UpdateCalls))
	}
	for _, r := range results {
		if r.Disposition != models.Accepted {
			t.Errorf("Unexpected result %+v", r)
		}
	}

	byCard := map[int64]planka.UpdateCardRequest{}
	for _, call := range api.UpdateCalls {
		byCard[call.CardID] = call.Req
	}

	first := byCard[results[0].CardID]
	if first.Description != "details" || first.DueDate == nil || !first.DueDate.Equal(due) {
		t.Errorf("Unexpected first update %+v", first)
	}
	second := byCard[results[1].CardID]
	if second.Description != "more" || second.DueDate != nil {
		t.Errorf("Unexpected second update %+v", second)
	}
}

func TestProcess_UpdateFailureStaysAccepted(t *testing.T) {
	api := NewMockAPI()
	api.Boards[7] = []planka.List{{ID: 9, Name: "Mail"}}
	api.UpdateErr = errors.New("timeout")

	records := []models.EmailRecord{{UID: 1, Title: "t", Body: "body", BoardID: int64Ptr(7)}}
	results := newPipeline(t, api).Process(context.Background(), records)

	if results[0].Disposition != models.Accepted {
		t.Errorf("Expected accepted despite update failure, got %+v", results[0])
	}
	if results[0].Reason == "" {
		t.Error("Expected the update failure to be recorded")
	}
	if len(api.UpdateCalls) != 1 {
		t.Errorf("Expected exactly one update attempt, got %d", len(api.UpdateCalls))
	}
}

func TestProcess_KeepsInputOrder(t *testing.T) {
	api := NewMockAPI()
	api.Boards[1] = []planka.List{{ID: 10, Name: "Mail"}}
	api.Boards[2] = []planka.List{{ID: 20, Name: "Todo"}}

	var records []models.EmailRecord
	for i := 0; i < 50; i++ {
		r := models.EmailRecord{UID: uint32(i + 1), Title: "t"}
		switch i % 3 {
		case 0:
			r.BoardID = int64Ptr(1)
		case 1:
			r.BoardID = int64Ptr(2)
		}
		records = append(records, r)
	}

	results := newPipeline(t, api,
		WithPrefetchConcurrency(4),
		WithDispatchConcurrency(8),
	).Process(context.Background(), records)

	if len(results) != len(records) {
		t.Fatalf("Expected %d results, got %d", len(records), len(results))
	}
	for i, r := range results {
		if r.Record.UID != records[i].UID {
			t.Fatalf("Result %d: uid = %d, want %d", i, r.Record.UID, records[i].UID)
		}
	}
	if api.BoardCalls[1] != 1 || api.BoardCalls[2] != 1 {
		t.Errorf("Expected one lookup per board, got %v", api.BoardCalls)
	}

	accepted, rejected := models.CountDispositions(results)
	if accepted != 34 || rejected != 16 {
		t.Errorf("Counts = %d/%d, want 34/16", accepted, rejected)
	}
}
