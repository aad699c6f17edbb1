// Package identity resolves who is editing: a signed-in user whose bearer
// token grants remote writes, or a guest whose edits are kept only in the
// local backup store.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// GuestKey is the backup key of the guest identity.
const GuestKey = "guest"

// RoleReader marks an account that may read but not write remote data.
const RoleReader = "reader"

// ErrInvalidToken is returned when the access token is not a decodable JWT
// or carries no subject.
var ErrInvalidToken = errors.New("identity: invalid access token")

// Claims are the access-token claims the client cares about. The signature
// is verified by the server; the client only reads the claims to decide
// where edits go.
type Claims struct {
	jwt.RegisteredClaims
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	Role          string `json:"role,omitempty"`
}

// Identity is the current editor.
type Identity struct {
	UserID    string
	Email     string
	Verified  bool
	Role      string
	ExpiresAt time.Time

	token *oauth2.Token
}

// Guest returns the identity used when nobody is signed in.
func Guest() *Identity {
	return &Identity{}
}

// FromToken decodes the claims of tok's access token.
func FromToken(tok *oauth2.Token) (*Identity, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, &claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}

	id := &Identity{
		UserID:   claims.Subject,
		Email:    claims.Email,
		Verified: claims.EmailVerified,
		Role:     claims.Role,
		token:    tok,
	}

	switch {
	case claims.ExpiresAt != nil:
		id.ExpiresAt = claims.ExpiresAt.Time
	case !tok.Expiry.IsZero():
		id.ExpiresAt = tok.Expiry
	}

	return id, nil
}

// Load reads the identity file at path. A missing file yields the guest
// identity.
func Load(path string) (*Identity, error) {
	tok, err := readToken(path)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return Guest(), nil
	}

	return FromToken(tok)
}

// IsGuest reports whether nobody is signed in.
func (i *Identity) IsGuest() bool {
	return i.UserID == ""
}

// CanWriteRemote reports whether edits should go to the remote store.
// Guests, unverified accounts, and read-only accounts keep their edits in
// the local backup instead.
func (i *Identity) CanWriteRemote() bool {
	return !i.IsGuest() && i.Verified && i.Role != RoleReader
}

// Key is the identity string the local backup is keyed by.
func (i *Identity) Key() string {
	if i.IsGuest() {
		return GuestKey
	}

	return i.UserID
}

// OwnerID is the owner segment of remote document paths.
func (i *Identity) OwnerID() string {
	return i.UserID
}

// TokenSource supplies the bearer token for remote requests, or nil for a
// guest.
func (i *Identity) TokenSource() oauth2.TokenSource {
	if i.token == nil {
		return nil
	}

	return oauth2.StaticTokenSource(i.token)
}

// Expired reports whether the access token has expired at now.
func (i *Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}
