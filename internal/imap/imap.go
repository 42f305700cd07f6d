package imap

import (
	"errors"

	"planka-mail-bridge/internal/models"
)

// ErrNotConnected is returned by every command issued before Connect
var ErrNotConnected = errors.New("imap: not connected")

// Client is the mailbox transport used by the synchronizer
type Client interface {
	Connect(server string) error
	Login(user, password string) error
	SelectMailbox(name string) error
	ListUIDs() ([]uint32, error)
	// FetchHeaders returns the messages collected so far even when it fails midway
	FetchHeaders(uids []uint32) ([]models.Message, error)
	FetchBody(uid uint32) ([]byte, error)
	Move(uids []uint32, mailbox string) error
	Close() error
}
