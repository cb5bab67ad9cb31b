// Package auth persists the backend bearer token in the OS keychain, with a
// private file as fallback on hosts without a keychain.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

// Error codes understood by the error classifier.
const (
	CodeTokenMissing = "TOKEN_MISSING"
	CodeTokenExpired = "TOKEN_EXPIRED"
)

// Error reports a missing or expired token. It classifies as
// permission_denied.
type Error struct {
	Code string
	Msg  string
}

func (e *Error) Error() string     { return "auth: " + e.Msg }
func (e *Error) ErrorCode() string { return e.Code }
func (e *Error) HTTPStatus() int   { return 401 }

// Token is a stored bearer token.
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the token is past its expiry at now. Tokens
// without an expiry never expire locally.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// Store reads and writes the token.
type Store struct {
	service string
	user    string
	file    string

	now func() time.Time
}

// NewStore creates a token store. file may be empty to disable the file
// fallback.
func NewStore(service, user, file string) *Store {
	return &Store{service: service, user: user, file: file, now: time.Now}
}

// Save stores tok. An expiry embedded in a JWT is used when ExpiresAt is
// not set.
func (s *Store) Save(tok Token) error {
	if strings.TrimSpace(tok.Value) == "" {
		return eris.New("auth: empty token")
	}
	if tok.ExpiresAt.IsZero() {
		tok.ExpiresAt = jwtExpiry(tok.Value)
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return eris.Wrap(err, "auth: marshal token")
	}

	kerr := keyring.Set(s.service, s.user, string(data))
	if kerr == nil {
		return nil
	}
	if s.file == "" {
		return eris.Wrap(kerr, "auth: keyring set")
	}
	zap.L().Warn("auth: keyring unavailable, using token file",
		zap.String("file", s.file),
		zap.Error(kerr),
	)
	if err := os.MkdirAll(filepath.Dir(s.file), 0o700); err != nil {
		return eris.Wrap(err, "auth: create token dir")
	}
	return eris.Wrap(os.WriteFile(s.file, data, 0o600), "auth: write token file")
}

// Load returns the stored token, from the keychain first and then the file.
func (s *Store) Load() (Token, error) {
	raw, err := keyring.Get(s.service, s.user)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			zap.L().Debug("auth: keyring get failed", zap.Error(err))
		}
		if s.file == "" {
			return Token{}, &Error{Code: CodeTokenMissing, Msg: "no token stored"}
		}
		data, ferr := os.ReadFile(s.file)
		if ferr != nil {
			return Token{}, &Error{Code: CodeTokenMissing, Msg: "no token stored"}
		}
		raw = string(data)
	}

	var tok Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		// Tokens written by other tools may be bare strings.
		tok = Token{Value: strings.TrimSpace(raw), ExpiresAt: jwtExpiry(strings.TrimSpace(raw))}
	}
	if tok.Value == "" {
		return Token{}, &Error{Code: CodeTokenMissing, Msg: "stored token is empty"}
	}
	return tok, nil
}

// Bearer returns a valid token value, or an *Error if the token is missing
// or expired.
func (s *Store) Bearer() (string, error) {
	tok, err := s.Load()
	if err != nil {
		return "", err
	}
	if tok.Expired(s.now()) {
		return "", &Error{Code: CodeTokenExpired, Msg: "token expired at " + tok.ExpiresAt.Format(time.RFC3339)}
	}
	return tok.Value, nil
}

// Clear removes the token from both locations.
func (s *Store) Clear() error {
	err := keyring.Delete(s.service, s.user)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return eris.Wrap(err, "auth: keyring delete")
	}
	if s.file != "" {
		if err := os.Remove(s.file); err != nil && !os.IsNotExist(err) {
			return eris.Wrap(err, "auth: remove token file")
		}
	}
	return nil
}

// jwtExpiry reads the unverified exp claim of a JWT. It returns the zero
// time for anything else.
func jwtExpiry(token string) time.Time {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if json.Unmarshal(payload, &claims) != nil || claims.Exp == 0 {
		return time.Time{}
	}
	return time.Unix(claims.Exp, 0).UTC()
}
