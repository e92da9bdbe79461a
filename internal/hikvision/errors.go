package hikvision

import (
	"errors"
	"fmt"
)

// Error taxonomy for the alert stream client. Every kind is recoverable by
// the supervisor; AuthFailed is logged at higher severity.
var (
	// ErrTransportClosed signals that the camera closed the connection or the
	// stream became unreadable (including a run of consecutive bad parts).
	ErrTransportClosed = errors.New("hikvision: transport closed")

	// ErrConnectRefused signals that the TCP/HTTP connection could not be
	// established at all.
	ErrConnectRefused = errors.New("hikvision: connect refused")
)

// AuthError is returned when digest negotiation fails, after the single
// permitted retry.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("hikvision: authentication failed: %s", e.Reason)
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// StatusError is returned for non-200 responses outside the auth handshake.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hikvision: unexpected HTTP status %d", e.Code)
}
