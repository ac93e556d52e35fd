package amqp

import (
	"encoding/json"
	"time"
)

// Notification message types.
const (
	TypeBudgetWarning   = "budget_warning"
	TypeBudgetExceeded  = "budget_exceeded"
	TypeScheduleOutcome = "schedule_outcome"
)

// Notification is the envelope published to the notification queue. The
// delivery worker on the other side resolves the user's channel (email,
// push) and renders the payload; this side only emits facts.
type Notification struct {
	UserID    int64             `json:"user_id"`
	Type      string            `json:"type"`
	Payload   map[string]string `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func NewNotification(userID int64, msgType string, payload map[string]string) *Notification {
	return &Notification{
		UserID:    userID,
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the notification to JSON bytes
func (n *Notification) ToJSON() ([]byte, error) {
	return json.Marshal(n)
}

// NotificationFromJSON creates a notification from JSON bytes
func NotificationFromJSON(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
