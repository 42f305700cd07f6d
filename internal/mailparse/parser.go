package mailparse

import (
	"bufio"
	"bytes"
	"io"
	"mime"
	"regexp"
	"strconv"
	"strings"
	"time"

	"planka-mail-bridge/internal/models"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const (
	BoardIDHeader = "X-Planka-Board-Id"
	ListIDHeader  = "X-Planka-List-Id"
)

var (
	boardIDPattern = headerPattern(BoardIDHeader)
	listIDPattern  = headerPattern(ListIDHeader)

	// DD-MM-YYYY HH:MM anywhere in the subject
	datePattern = regexp.MustCompile(`(\d{2})-(\d{2})-(\d{4}) (\d{2}):(\d{2})`)
)

func headerPattern(field string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(field) + `:\s*(\d+)\r?$`)
}

// ExtractBoardID returns the board id carried by the X-Planka-Board-Id header line
func ExtractBoardID(headers string) (int64, bool) {
	return extractID(boardIDPattern, headers)
}

// ExtractListID returns the list id carried by the X-Planka-List-Id header line
func ExtractListID(headers string) (int64, bool) {
	return extractID(listIDPattern, headers)
}

func extractID(re *regexp.Regexp, headers string) (int64, bool) {
	match := re.FindStringSubmatch(headers)
	if match == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ExtractDate finds a "DD-MM-YYYY HH:MM" timestamp in the subject and returns it in local time.
// Digits that do not form a real calendar date (day 32, month 13, 25:00...) yield no date.
func ExtractDate(subject string) (time.Time, bool) {
	match := datePattern.FindStringSubmatch(subject)
	if match == nil {
		return time.Time{}, false
	}

	date, err := time.ParseInLocation("02-01-2006 15:04", match[0], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

// DecodeHeader decodes MIME-encoded headers (e.g., "=?UTF-8?B?...?=") to NFC-normalized plain text
func DecodeHeader(encoded string) (string, error) {
	decoder := &mime.WordDecoder{CharsetReader: charset.Reader}
	decoded, err := decoder.DecodeHeader(encoded)
	if err != nil {
		return "", err
	}
	return norm.NFC.String(decoded), nil
}

// ParseHeader reads a raw RFC 5322 header block and returns it as text
// together with the decoded subject. An undecodable subject is kept as-is;
// on a malformed block the raw text is still returned alongside the error.
func ParseHeader(raw []byte) (string, string, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return string(raw), "", err
	}

	rawSubject := h.Get("Subject")
	subject, err := DecodeHeader(rawSubject)
	if err != nil {
		subject = rawSubject
	}

	return string(raw), subject, nil
}

// ParseBody extracts the first text/plain part of a raw message.
// Messages that are not MIME-parseable are returned as plain text.
func ParseBody(raw []byte) (string, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return strings.TrimSpace(string(raw)), nil
	}
	defer func() { _ = mr.Close() }()

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return "", err
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, err := h.ContentType()
			if err != nil {
				continue
			}
			if contentType == "text/plain" {
				body, err := io.ReadAll(p.Body)
				if err != nil {
					continue
				}
				return strings.TrimSpace(string(body)), nil
			}
		}
	}

	return "", nil
}

// BuildRecord turns a listed message into an EmailRecord. The body is filled in later.
func BuildRecord(msg models.Message) models.EmailRecord {
	record := models.EmailRecord{
		UID:     msg.UID,
		Title:   msg.Subject,
		TraceID: uuid.New().String(),
	}

	if id, ok := ExtractBoardID(msg.Headers); ok {
		record.BoardID = &id
	}
	if id, ok := ExtractListID(msg.Headers); ok {
		record.ListID = &id
	}
	if date, ok := ExtractDate(msg.Subject); ok {
		record.Date = &date
	}

	return record
}
