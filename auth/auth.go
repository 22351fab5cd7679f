// Package auth supplies the session credentials attached to every request
// and to the websocket handshake.
package auth

import "net/http"

const (
	UidCookie   = "x-uid"
	TokenCookie = "x-token"
)

type Provider interface {
	// UserID returns the id of the local user.
	UserID() string

	// Authorize attaches credentials to the headers of an outgoing request.
	Authorize(h http.Header) error
}
