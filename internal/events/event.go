package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Topic identifies a lifecycle event. It doubles as the routing key on the
// events exchange.
type Topic string

const (
	TopicPieceStarted  Topic = "piece.started"
	TopicPieceFinished Topic = "piece.finished"
	TopicPieceFailed   Topic = "piece.failed"
)

// Event is the payload published for every piece lifecycle transition.
type Event struct {
	ID            string    `json:"event_id"`
	Topic         Topic     `json:"event"`
	PieceID       string    `json:"piece_id"`
	PieceType     string    `json:"piece_type,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// NewEvent stamps a fresh identifier and UTC timestamp on a lifecycle event.
func NewEvent(topic Topic, pieceID, pieceType string) Event {
	return Event{
		ID:         uuid.NewString(),
		Topic:      topic,
		PieceID:    pieceID,
		PieceType:  pieceType,
		OccurredAt: time.Now().UTC(),
	}
}

// Encode renders the wire form of an event.
func Encode(ev Event) ([]byte, error) {
	if strings.TrimSpace(string(ev.Topic)) == "" {
		return nil, errors.New("event topic is required")
	}
	if strings.TrimSpace(ev.PieceID) == "" {
		return nil, errors.New("event piece id is required")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

// Decode parses the wire form of an event.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
