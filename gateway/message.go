// gateway/message.go
package gateway

import (
	"encoding/json"
	"errors"

	"github.com/dalemusser/nural/exception"
)

// Envelope is the inbound frame: an event name, its payload, and an
// optional correlation id. Frames with an id get an Ack.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    string          `json:"id,omitempty"`
}

// Ack answers an Envelope that carried an id.
type Ack struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Emit is a server-pushed event.
type Emit struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

const (
	AckOK    = "ok"
	AckError = "error"
)

func okAck(id string, data any) Ack {
	return Ack{ID: id, Status: AckOK, Data: data}
}

// errorAck shapes err for the client. Validation failures carry their
// issues; HTTP exceptions carry message and details; anything else only
// its message.
func errorAck(id string, err error) Ack {
	ack := Ack{ID: id, Status: AckError}
	var ve *exception.ValidationError
	var he *exception.HTTPException
	switch {
	case errors.As(err, &ve):
		ack.Error = "Validation Failed"
		ack.Details = ve.Issues
	case errors.As(err, &he):
		ack.Error = he.Message
		if ack.Error == "" {
			ack.Error = exception.StatusName(he.StatusCode())
		}
		ack.Details = he.Details
	default:
		ack.Error = err.Error()
		if ack.Error == "" {
			ack.Error = "Internal Server Error"
		}
	}
	return ack
}
