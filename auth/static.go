package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Static is a Provider with a fixed user id and session token.
type Static struct {
	Uid   string
	Token string
}

func (c *Static) UserID() string {
	return c.Uid
}

func (c *Static) Authorize(h http.Header) error {
	if c.Uid == "" || c.Token == "" {
		return errors.New("empty uid or token")
	}
	cookies := []*http.Cookie{
		{Name: UidCookie, Value: c.Uid},
		{Name: TokenCookie, Value: c.Token},
	}
	var parts []string
	for _, ck := range cookies {
		parts = append(parts, ck.String())
	}
	h.Set("Cookie", strings.Join(parts, "; "))
	h.Set("Authorization", "Bearer "+c.Token)
	return nil
}

// FromRequest extracts the user id and token attached by Authorize. Servers
// and test doubles use it to authenticate the peer.
func FromRequest(r *http.Request) (uid, token string, err error) {
	if c, err := r.Cookie(UidCookie); err == nil {
		uid = c.Value
	}
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		token = strings.TrimPrefix(v, "Bearer ")
	} else if c, err := r.Cookie(TokenCookie); err == nil {
		token = c.Value
	}
	if uid == "" || token == "" {
		return "", "", fmt.Errorf("empty %s or %s from cookie", UidCookie, TokenCookie)
	}
	return uid, token, nil
}
