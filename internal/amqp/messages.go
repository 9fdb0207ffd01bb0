package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"expensetracker/internal/core"
)

// ImportRequestMessage asks the worker to run a bank import for one user.
// The dates are optional and travel as YYYY-MM-DD.
type ImportRequestMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	DateFrom  string    `json:"dateFrom,omitempty"`
	DateTo    string    `json:"dateTo,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewImportRequestMessage(userID string, from, to *core.Date) *ImportRequestMessage {
	msg := &ImportRequestMessage{
		ID:        uuid.NewString(),
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
	if from != nil {
		msg.DateFrom = from.String()
	}
	if to != nil {
		msg.DateTo = to.String()
	}
	return msg
}

// Window parses the optional date window.
func (m *ImportRequestMessage) Window() (from, to *core.Date, err error) {
	parse := func(s string) (*core.Date, error) {
		if s == "" {
			return nil, nil
		}
		d, err := core.ParseDate(s)
		if err != nil {
			return nil, err
		}
		return &d, nil
	}
	if from, err = parse(m.DateFrom); err != nil {
		return nil, nil, fmt.Errorf("dateFrom: %w", err)
	}
	if to, err = parse(m.DateTo); err != nil {
		return nil, nil, fmt.Errorf("dateTo: %w", err)
	}
	return from, to, nil
}

// ToJSON converts the message to JSON bytes
func (m *ImportRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ImportRequestMessageFromJSON(data []byte) (*ImportRequestMessage, error) {
	var msg ImportRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" {
		return nil, fmt.Errorf("import request %q has no userId", msg.ID)
	}
	return &msg, nil
}
