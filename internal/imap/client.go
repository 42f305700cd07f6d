package imap

import (
	"fmt"
	"io"
	"sort"
	"time"

	"planka-mail-bridge/internal/logging"
	"planka-mail-bridge/internal/mailparse"
	"planka-mail-bridge/internal/models"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

const defaultTimeout = 30 * time.Second

type StandardClient struct {
	client  *client.Client
	timeout time.Duration
}

// NewStandardClient creates a StandardClient; a zero timeout falls back to 30 seconds per command
func NewStandardClient(timeout time.Duration) *StandardClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &StandardClient{
		timeout: timeout,
	}
}

// Connect establishes a TLS connection to the IMAP server (host:port)
func (c *StandardClient) Connect(server string) error {
	cl, err := client.DialTLS(server, nil)
	if err != nil {
		return fmt.Errorf("IMAP connection error: %w", err)
	}
	cl.Timeout = c.timeout
	c.client = cl
	return nil
}

// Login authenticates against the server
func (c *StandardClient) Login(user, password string) error {
	if c.client == nil {
		return ErrNotConnected
	}
	return c.client.Login(user, password)
}

// SelectMailbox selects a mailbox read-write so messages can be moved out of it
func (c *StandardClient) SelectMailbox(name string) error {
	if c.client == nil {
		return ErrNotConnected
	}
	if _, err := c.client.Select(name, false); err != nil {
		return fmt.Errorf("selecting mailbox %s: %w", name, err)
	}
	return nil
}

// ListUIDs returns the UIDs of every message in the selected mailbox, ascending
func (c *StandardClient) ListUIDs() ([]uint32, error) {
	if c.client == nil {
		return nil, ErrNotConnected
	}

	uids, err := c.client.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("error listing messages: %w", err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	return uids, nil
}

// FetchHeaders retrieves the header block of each message without setting \Seen.
// Messages received before a transport error are returned along with it.
func (c *StandardClient) FetchHeaders(uids []uint32) ([]models.Message, error) {
	if c.client == nil {
		return nil, ErrNotConnected
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier},
		Peek:         true,
	}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	result := make([]models.Message, 0, len(uids))
	for m := range messages {
		literal := m.GetBody(section)
		if literal == nil {
			logging.Log.Warnf("No header section returned for UID %d", m.Uid)
			continue
		}
		raw, err := io.ReadAll(literal)
		if err != nil {
			logging.Log.WithError(err).Warnf("Error reading headers of UID %d", m.Uid)
			continue
		}

		headers, subject, err := mailparse.ParseHeader(raw)
		if err != nil {
			logging.Log.WithError(err).Warnf("Malformed headers for UID %d", m.Uid)
		}
		result = append(result, models.Message{UID: m.Uid, Headers: headers, Subject: subject})
	}

	if err := <-done; err != nil {
		return result, fmt.Errorf("error fetching headers: %w", err)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].UID < result[j].UID })
	return result, nil
}

// FetchBody retrieves the full raw message without setting \Seen
func (c *StandardClient) FetchBody(uid uint32) ([]byte, error) {
	if c.client == nil {
		return nil, ErrNotConnected
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		msg = m
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("error fetching message UID %d: %w", uid, err)
	}

	if msg == nil {
		return nil, fmt.Errorf("no message retrieved for UID %d", uid)
	}

	literal := msg.GetBody(section)
	if literal == nil {
		return nil, fmt.Errorf("no body returned for UID %d", uid)
	}
	return io.ReadAll(literal)
}

// Move moves the messages to another mailbox, falling back to copy and expunge
// on servers without the MOVE extension
func (c *StandardClient) Move(uids []uint32, mailbox string) error {
	if c.client == nil {
		return ErrNotConnected
	}
	if len(uids) == 0 {
		return nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	if err := c.client.UidMove(seqSet, mailbox); err != nil {
		return fmt.Errorf("error moving %d messages to %s: %w", len(uids), mailbox, err)
	}
	return nil
}

// Close logs out and closes the connection. It is a no-op when not connected.
func (c *StandardClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Logout()
}
