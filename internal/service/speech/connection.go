package speech

import (
	"errors"

	"github.com/gorilla/websocket"
)

// IsRetryableError reports whether a WebSocket-level failure is worth a
// single extra attempt (a dropped or abnormally closed connection) rather
// than a definite rejection from the upstream API.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	return closeErr.Code == websocket.CloseAbnormalClosure || closeErr.Code == websocket.CloseGoingAway
}
