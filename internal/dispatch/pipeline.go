package dispatch

import (
	"context"
	"errors"
	"fmt"

	"planka-mail-bridge/internal/boardcache"
	"planka-mail-bridge/internal/logging"
	"planka-mail-bridge/internal/models"
	"planka-mail-bridge/internal/planka"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Cards are always inserted at the top of the target list
const cardPosition = 0

const (
	ReasonNoBoard      = "no board id"
	ReasonBoardMissing = "board not found"
	ReasonNoList       = "no list available"
	ReasonCreateFailed = "card creation failed"
)

// ErrNilClient is returned when a pipeline is built without an API client
var ErrNilClient = errors.New("dispatch: planka client is required")

// BoardAPI is the part of the Planka API the pipeline needs
type BoardAPI interface {
	boardcache.BoardFetcher
	CreateCard(ctx context.Context, listID int64, req planka.CreateCardRequest) (*planka.Card, error)
	UpdateCard(ctx context.Context, cardID int64, req planka.UpdateCardRequest) error
}

// Pipeline turns email records into cards and classifies every record
type Pipeline struct {
	api                 BoardAPI
	prefetchConcurrency int
	dispatchConcurrency int
	log                 *logrus.Entry
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithPrefetchConcurrency bounds concurrent board lookups
func WithPrefetchConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.prefetchConcurrency = n
		}
	}
}

// WithDispatchConcurrency bounds how many records are dispatched at once
func WithDispatchConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.dispatchConcurrency = n
		}
	}
}

// WithLogger sets the base log entry, typically carrying the batch id
func WithLogger(log *logrus.Entry) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// NewPipeline creates a pipeline backed by the given API client
func NewPipeline(api BoardAPI, opts ...Option) (*Pipeline, error) {
	if api == nil {
		return nil, ErrNilClient
	}

	p := &Pipeline{
		api:                 api,
		prefetchConcurrency: 1,
		dispatchConcurrency: 1,
		log:                 logrus.NewEntry(logging.Log),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Process resolves boards for the batch, then creates one card per record.
// It returns exactly one result per record, in input order. Per-record
// failures are reported as Rejected results, never as errors.
func (p *Pipeline) Process(ctx context.Context, records []models.EmailRecord) []models.ProcessingResult {
	p.log.Tracef("Processing %d records", len(records))

	cache := boardcache.New(p.api,
		boardcache.WithConcurrency(p.prefetchConcurrency),
		boardcache.WithLogger(p.log),
	)
	cache.Prefetch(ctx, boardIDs(records))

	results := make([]models.ProcessingResult, len(records))

	g := new(errgroup.Group)
	g.SetLimit(p.dispatchConcurrency)
	for i := range records {
		g.Go(func() error {
			results[i] = p.dispatch(ctx, cache, records[i])
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// boardIDs lists the board ids of the records that carry one
func boardIDs(records []models.EmailRecord) []int64 {
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		if r.HasBoard() {
			ids = append(ids, *r.BoardID)
		}
	}
	return ids
}

func (p *Pipeline) dispatch(ctx context.Context, cache *boardcache.Cache, record models.EmailRecord) models.ProcessingResult {
	locallog := p.log.WithFields(logrus.Fields{"trace_id": record.TraceID, "uid": record.UID})
	result := models.ProcessingResult{Record: record, Disposition: models.Rejected}

	if !record.HasBoard() {
		locallog.Warn("Rejecting email: no board id")
		result.Reason = ReasonNoBoard
		return result
	}

	entry, ok := cache.Resolve(*record.BoardID)
	if !ok {
		locallog.WithField("board_id", *record.BoardID).Warn("Rejecting email: board not found")
		result.Reason = ReasonBoardMissing
		return result
	}

	listID, ok := effectiveList(record, entry)
	if !ok {
		locallog.WithField("board_id", *record.BoardID).Warn("Rejecting email: list not found")
		result.Reason = ReasonNoList
		return result
	}
	result.ListID = listID

	cardID, err := p.createCard(ctx, record, listID)
	if err != nil {
		locallog.WithError(err).WithField("list_id", listID).Warn("Rejecting email: card creation failed")
		result.Reason = ReasonCreateFailed
		return result
	}

	result.Disposition = models.Accepted
	result.CardID = cardID
	locallog.WithFields(logrus.Fields{"list_id": listID, "card_id": cardID}).Info("Created card")

	if record.Body != "" {
		if err := p.updateCard(ctx, record, cardID); err != nil {
			locallog.WithError(err).WithField("card_id", cardID).Error("Error updating card")
			result.Reason = err.Error()
		}
	}

	return result
}

// effectiveList returns the list named by the email, else the board's preferred list
func effectiveList(record models.EmailRecord, entry *boardcache.Entry) (int64, bool) {
	if record.ListID != nil {
		return *record.ListID, true
	}
	if entry.PreferredList != nil {
		return int64(entry.PreferredList.ID), true
	}
	return 0, false
}

// createCard is the required write: its outcome alone decides acceptance. It is never retried.
func (p *Pipeline) createCard(ctx context.Context, record models.EmailRecord, listID int64) (int64, error) {
	card, err := p.api.CreateCard(ctx, listID, planka.CreateCardRequest{
		Name:     record.Title,
		Position: cardPosition,
	})
	if err != nil {
		return 0, err
	}
	return int64(card.ID), nil
}

// updateCard is the best-effort write of description and due date
func (p *Pipeline) updateCard(ctx context.Context, record models.EmailRecord, cardID int64) error {
	err := p.api.UpdateCard(ctx, cardID, planka.UpdateCardRequest{
		Description: record.Body,
		DueDate:     record.Date,
	})
	if err != nil {
		return fmt.Errorf("updating card %d: %w", cardID, err)
	}
	return nil
}
