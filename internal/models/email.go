package models

import "time"

// Message is a raw message as listed from the inbound mailbox
type Message struct {
	UID     uint32
	Headers string
	Subject string
}

// EmailRecord is the structured form of an inbound email, ready to become a card
type EmailRecord struct {
	UID     uint32
	Title   string
	BoardID *int64
	ListID  *int64
	Body    string
	Date    *time.Time
	TraceID string
}

// HasBoard reports whether the record carries a board id
func (r EmailRecord) HasBoard() bool {
	return r.BoardID != nil
}
