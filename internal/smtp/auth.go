// Package smtp implements the inbound mail listener: a TCP SMTP server
// with STARTTLS and AUTH that hands accepted submissions to the email
// processor.
package smtp

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// Authenticator verifies SMTP AUTH credentials against the single
// configured username/password pair. Authentication is mandatory for
// this listener; it only accepts mail from the bridge's own agents.
type Authenticator struct {
	username string
	password string
}

func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{
		username: username,
		password: password,
	}
}

func (a *Authenticator) verify(user, pass string) error {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.password)) == 1
	if !userOK || !passOK {
		return fmt.Errorf("authentication failed for user %q", user)
	}
	return nil
}

// VerifyPlain decodes and verifies an AUTH PLAIN response.
// AUTH PLAIN format: base64(authzid\0authcid\0password); the
// authorization identity is ignored.
func (a *Authenticator) VerifyPlain(encoded string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid base64 encoding")
	}

	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid AUTH PLAIN format")
	}

	user := parts[1]
	pass := parts[2]

	return user, a.verify(user, pass)
}

// VerifyLogin verifies AUTH LOGIN credentials after the
// challenge-response flow. Both values arrive base64-encoded.
func (a *Authenticator) VerifyLogin(encodedUser, encodedPass string) (string, error) {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return "", fmt.Errorf("invalid base64 username")
	}

	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return string(user), fmt.Errorf("invalid base64 password")
	}

	return string(user), a.verify(string(user), string(pass))
}
