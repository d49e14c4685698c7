package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// UploadAnalyzeMessage asks a worker to analyze a freshly stored upload.
// It carries only the stored name; the worker reads the file itself.
type UploadAnalyzeMessage struct {
	EventID    string    `json:"event_id"`
	StoredName string    `json:"stored_name"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewUploadAnalyzeMessage creates a message with a fresh event ID.
func NewUploadAnalyzeMessage(storedName string) *UploadAnalyzeMessage {
	return &UploadAnalyzeMessage{
		EventID:    uuid.NewString(),
		StoredName: storedName,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *UploadAnalyzeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// UploadAnalyzeMessageFromJSON decodes and validates a message.
func UploadAnalyzeMessageFromJSON(data []byte) (*UploadAnalyzeMessage, error) {
	var msg UploadAnalyzeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.StoredName == "" {
		return nil, errors.New("message has no stored_name")
	}
	if msg.EventID != "" {
		if _, err := uuid.Parse(msg.EventID); err != nil {
			return nil, errors.New("message has an invalid event_id")
		}
	}
	return &msg, nil
}
