// gateway/conn.go
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// ErrConnectionClosed is returned when writing to a closed connection.
var ErrConnectionClosed = errors.New("gateway: connection closed")

// StatusCode is a WebSocket close code.
type StatusCode int

const (
	StatusNormalClosure   StatusCode = StatusCode(websocket.StatusNormalClosure)
	StatusGoingAway       StatusCode = StatusCode(websocket.StatusGoingAway)
	StatusPolicyViolation StatusCode = StatusCode(websocket.StatusPolicyViolation)
	StatusUnsupportedData StatusCode = StatusCode(websocket.StatusUnsupportedData)
	StatusInternalError   StatusCode = StatusCode(websocket.StatusInternalError)
)

// AcceptOptions configures the upgrade.
type AcceptOptions struct {
	// OriginPatterns lists allowed origins, e.g. "https://*.example.com".
	OriginPatterns []string
	// InsecureSkipVerify disables origin checks. Development only.
	InsecureSkipVerify bool
	// MaxMessageSize caps inbound frames. Default 32KB.
	MaxMessageSize int64
}

// conn serializes writes and makes Close idempotent.
type conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func accept(w http.ResponseWriter, r *http.Request, opts AcceptOptions) (*conn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     opts.OriginPatterns,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	})
	if err != nil {
		return nil, err
	}
	limit := opts.MaxMessageSize
	if limit <= 0 {
		limit = 32 * 1024
	}
	ws.SetReadLimit(limit)
	return &conn{ws: ws}, nil
}

func (c *conn) read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// close reports whether this call performed the close.
func (c *conn) close(code StatusCode, reason string) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.ws.Close(websocket.StatusCode(code), reason)
	return true
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// closeStatus extracts the peer's close code, or -1.
func closeStatus(err error) StatusCode {
	return StatusCode(websocket.CloseStatus(err))
}
