// Package audit delivers pseudonym assignment events. Events carry the
// digest, never the identifier.
package audit

import (
	"encoding/json"
	"time"

	"pseudonym/internal/pseudonym/ports"
)

// Message is the wire form of an assignment event.
type Message struct {
	Digest     string    `json:"digest"`
	AssignedAt time.Time `json:"assigned_at"`
	RequestID  string    `json:"request_id,omitempty"`
}

func toMessage(event ports.AssignmentEvent) Message {
	return Message{
		Digest:     event.Digest.Hex(),
		AssignedAt: event.AssignedAt.UTC(),
		RequestID:  event.RequestID,
	}
}

// Marshal encodes event as JSON.
func Marshal(event ports.AssignmentEvent) ([]byte, error) {
	return json.Marshal(toMessage(event))
}
