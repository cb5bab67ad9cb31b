package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func fakeJWT(exp time.Time) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"sub":"u1","exp":%d}`, exp.Unix())))
	return "eyJhbGciOiJIUzI1NiJ9." + payload + ".sig"
}

func TestStore_SaveLoadKeyring(t *testing.T) {
	keyring.MockInit()
	s := NewStore("ingest-cli-test", "token", "")

	require.NoError(t, s.Save(Token{Value: "abc"}))
	got, err := s.Bearer()
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	require.NoError(t, s.Clear())
	_, err = s.Bearer()
	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, CodeTokenMissing, aerr.ErrorCode())
	assert.Equal(t, 401, aerr.HTTPStatus())
}

func TestStore_ExpiredJWT(t *testing.T) {
	keyring.MockInit()
	s := NewStore("ingest-cli-test", "token", "")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(Token{Value: fakeJWT(now.Add(-time.Minute))}))
	_, err := s.Bearer()
	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, CodeTokenExpired, aerr.Code)

	require.NoError(t, s.Save(Token{Value: fakeJWT(now.Add(time.Hour))}))
	_, err = s.Bearer()
	assert.NoError(t, err)
}

func TestStore_FileFallback(t *testing.T) {
	keyring.MockInitWithError(errors.New("no dbus"))
	file := filepath.Join(t.TempDir(), "auth", "token.json")
	s := NewStore("ingest-cli-test", "token", file)

	require.NoError(t, s.Save(Token{Value: "from-file"}))
	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := s.Bearer()
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)
}

func TestStore_BareStringFile(t *testing.T) {
	keyring.MockInitWithError(errors.New("no dbus"))
	file := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(file, []byte("plain-token\n"), 0o600))

	got, err := NewStore("svc", "user", file).Bearer()
	require.NoError(t, err)
	assert.Equal(t, "plain-token", got)
}

func TestStore_SaveRejectsEmpty(t *testing.T) {
	keyring.MockInit()
	assert.Error(t, NewStore("svc", "user", "").Save(Token{Value: "  "}))
}
