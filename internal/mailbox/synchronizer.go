package mailbox

import (
	"context"
	"errors"
	"fmt"

	imapclient "planka-mail-bridge/internal/imap"
	"planka-mail-bridge/internal/logging"
	"planka-mail-bridge/internal/mailparse"
	"planka-mail-bridge/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ReasonNoBoard marks records rejected before dispatch
const ReasonNoBoard = "no board id"

// Dispatcher turns records into cards, one result per record in input order
type Dispatcher interface {
	Process(ctx context.Context, records []models.EmailRecord) []models.ProcessingResult
}

// Recorder persists the results of a batch
type Recorder interface {
	Record(ctx context.Context, batchID string, results []models.ProcessingResult) error
}

// Summary describes one synchronization batch
type Summary struct {
	BatchID  string
	Scanned  int
	Accepted int
	Rejected int
	Results  []models.ProcessingResult
}

// Synchronizer reads the inbound mailbox, dispatches its messages and files them by outcome
type Synchronizer struct {
	client     imapclient.Client
	dispatcher Dispatcher
	recorder   Recorder
	cfg        models.EmailConfig
}

// Option customizes a Synchronizer
type Option func(*Synchronizer)

// WithRecorder journals every batch
func WithRecorder(r Recorder) Option {
	return func(s *Synchronizer) {
		s.recorder = r
	}
}

// NewSynchronizer creates a synchronizer working on an already authenticated client
func NewSynchronizer(client imapclient.Client, dispatcher Dispatcher, cfg models.EmailConfig, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		client:     client,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync runs one batch: scan → parse → dispatch → journal → move.
// Scan failures shorten the batch instead of aborting it. The returned error
// reports mailbox selection or move failures; messages that could not be
// moved stay in the inbox for the next batch. When ctx is cancelled during
// dispatch only the accepted messages are moved and the error wraps ctx.Err().
func (s *Synchronizer) Sync(ctx context.Context) (Summary, error) {
	summary := Summary{BatchID: uuid.New().String()}
	locallog := logging.Log.WithField("batch_id", summary.BatchID)

	if err := s.client.SelectMailbox(s.cfg.InboxPath()); err != nil {
		return summary, fmt.Errorf("folder selection error: %w", err)
	}

	messages := s.scan(locallog)
	summary.Scanned = len(messages)
	if len(messages) == 0 {
		locallog.Trace("Inbox is empty")
		return summary, nil
	}
	locallog.Infof("Processing %d emails", len(messages))

	var (
		unresolved []models.ProcessingResult
		records    []models.EmailRecord
	)
	for _, msg := range messages {
		record := mailparse.BuildRecord(msg)
		if !record.HasBoard() {
			locallog.WithField("trace_id", record.TraceID).Warnf("Email UID %d has no board id, rejecting", record.UID)
			unresolved = append(unresolved, models.ProcessingResult{
				Record:      record,
				Disposition: models.Rejected,
				Reason:      ReasonNoBoard,
			})
			continue
		}
		records = append(records, record)
	}

	s.attachBodies(locallog, records)

	results := append(unresolved, s.dispatcher.Process(ctx, records)...)

	// Rejections seen after cancellation come from the aborted calls, not from
	// the emails: only created cards are filed, the rest stay in the inbox.
	interrupted := ctx.Err()
	if interrupted != nil {
		decided := acceptedOnly(results)
		locallog.WithError(interrupted).Warnf("Batch interrupted, leaving %d emails in the inbox", len(results)-len(decided))
		results = decided
	}

	summary.Results = results
	summary.Accepted, summary.Rejected = models.CountDispositions(results)

	if s.recorder != nil {
		if err := s.recorder.Record(context.WithoutCancel(ctx), summary.BatchID, results); err != nil {
			locallog.WithError(err).Error("Error journaling batch")
		}
	}

	moveErr := s.move(locallog, results)

	locallog.WithFields(logrus.Fields{
		"accepted": summary.Accepted,
		"rejected": summary.Rejected,
	}).Infof("Accepted %d cards, rejected %d cards", summary.Accepted, summary.Rejected)

	if interrupted != nil {
		return summary, errors.Join(fmt.Errorf("batch interrupted: %w", interrupted), moveErr)
	}
	return summary, moveErr
}

func acceptedOnly(results []models.ProcessingResult) []models.ProcessingResult {
	accepted := make([]models.ProcessingResult, 0, len(results))
	for _, r := range results {
		if r.Disposition == models.Accepted {
			accepted = append(accepted, r)
		}
	}
	return accepted
}

// scan lists the inbox and fetches headers, keeping whatever was collected before a failure
func (s *Synchronizer) scan(locallog *logrus.Entry) []models.Message {
	uids, err := s.client.ListUIDs()
	if err != nil {
		locallog.WithError(err).Error("Error listing emails")
		return nil
	}
	if len(uids) == 0 {
		return nil
	}

	messages, err := s.client.FetchHeaders(uids)
	if err != nil {
		locallog.WithError(err).Warnf("Scan stopped after %d of %d emails", len(messages), len(uids))
	}
	return messages
}

// attachBodies downloads the text body of each record. After the first failure
// the remaining records are dispatched without a body.
func (s *Synchronizer) attachBodies(locallog *logrus.Entry, records []models.EmailRecord) {
	for i := range records {
		raw, err := s.client.FetchBody(records[i].UID)
		if err != nil {
			locallog.WithError(err).WithField("trace_id", records[i].TraceID).
				Warnf("Error fetching body of UID %d, skipping remaining bodies", records[i].UID)
			return
		}

		body, err := mailparse.ParseBody(raw)
		if err != nil {
			locallog.WithError(err).WithField("trace_id", records[i].TraceID).
				Warnf("Error parsing body of UID %d", records[i].UID)
			continue
		}
		records[i].Body = body
	}
}

// move files accepted and rejected messages, one command per target mailbox
func (s *Synchronizer) move(locallog *logrus.Entry, results []models.ProcessingResult) error {
	var accepted, rejected []uint32
	for _, r := range results {
		if r.Disposition == models.Accepted {
			accepted = append(accepted, r.Record.UID)
		} else {
			rejected = append(rejected, r.Record.UID)
		}
	}

	var errs []error
	for _, target := range []struct {
		mailbox string
		uids    []uint32
	}{
		{mailbox: s.cfg.AcceptedPath(), uids: accepted},
		{mailbox: s.cfg.RejectedPath(), uids: rejected},
	} {
		if len(target.uids) == 0 {
			continue
		}
		locallog.Tracef("Moving %d emails to %s", len(target.uids), target.mailbox)
		if err := s.client.Move(target.uids, target.mailbox); err != nil {
			locallog.WithError(err).Errorf("Error moving emails to %s", target.mailbox)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
