package planka

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is a Planka identifier. The API serializes ids as JSON strings because
// they exceed the precision of JavaScript numbers; plain numbers are accepted too.
type ID int64

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// MarshalJSON encodes the id as a JSON string
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON accepts both "123" and 123
func (id *ID) UnmarshalJSON(data []byte) error {
	raw := bytes.Trim(data, `"`)
	if len(raw) == 0 || string(raw) == "null" {
		*id = 0
		return nil
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid planka id %s: %w", data, err)
	}
	*id = ID(v)
	return nil
}

// Board is the subset of a Planka board this service reads
type Board struct {
	ID        ID     `json:"id"`
	ProjectID ID     `json:"projectId"`
	Name      string `json:"name"`
}

// List is a column of a board
type List struct {
	ID       ID      `json:"id"`
	BoardID  ID      `json:"boardId"`
	Name     string  `json:"name"`
	Position float64 `json:"position"`
}

// BoardResponse is the payload of GET /api/boards/{id}
type BoardResponse struct {
	Item     Board `json:"item"`
	Included struct {
		Lists []List `json:"lists"`
	} `json:"included"`
}

// Lists returns the lists of the board in the order the API returned them
func (r *BoardResponse) Lists() []List {
	if r == nil {
		return nil
	}
	return r.Included.Lists
}

// Card is the subset of a Planka card this service reads
type Card struct {
	ID          ID         `json:"id"`
	ListID      ID         `json:"listId"`
	BoardID     ID         `json:"boardId"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	DueDate     *time.Time `json:"dueDate"`
	Position    float64    `json:"position"`
}

type cardResponse struct {
	Item Card `json:"item"`
}

// CreateCardRequest is the body of POST /api/lists/{listId}/cards
type CreateCardRequest struct {
	Name     string  `json:"name"`
	Position float64 `json:"position"`
}

// UpdateCardRequest is the body of PATCH /api/cards/{id}. A nil DueDate clears the due date.
type UpdateCardRequest struct {
	Description string     `json:"description"`
	DueDate     *time.Time `json:"dueDate"`
}

// ErrorResponse is the error payload returned by the Planka API
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
