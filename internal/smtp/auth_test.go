package smtp

import (
	"encoding/base64"
	"testing"
)

func TestAuthenticator_VerifyPlain_Success(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	// AUTH PLAIN format: \0username\0password
	plaintext := "\x00testuser\x00testpass"
	encoded := base64.StdEncoding.EncodeToString([]byte(plaintext))

	user, err := auth.VerifyPlain(encoded)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if user != "testuser" {
		t.Errorf("username: got %q, want %q", user, "testuser")
	}
}

func TestAuthenticator_VerifyPlain_WithAuthzID(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	// AUTH PLAIN with authorization identity: authzid\0authcid\0password
	plaintext := "admin\x00testuser\x00testpass"
	encoded := base64.StdEncoding.EncodeToString([]byte(plaintext))

	if _, err := auth.VerifyPlain(encoded); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthenticator_VerifyPlain_WrongPassword(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	plaintext := "\x00testuser\x00wrongpass"
	encoded := base64.StdEncoding.EncodeToString([]byte(plaintext))

	if _, err := auth.VerifyPlain(encoded); err == nil {
		t.Error("expected error for wrong password, got nil")
	}
}

func TestAuthenticator_VerifyPlain_WrongUsername(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	plaintext := "\x00wronguser\x00testpass"
	encoded := base64.StdEncoding.EncodeToString([]byte(plaintext))

	user, err := auth.VerifyPlain(encoded)
	if err == nil {
		t.Error("expected error for wrong username, got nil")
	}
	// The attempted username is still reported for audit logging.
	if user != "wronguser" {
		t.Errorf("username: got %q, want %q", user, "wronguser")
	}
}

func TestAuthenticator_VerifyPlain_InvalidBase64(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	if _, err := auth.VerifyPlain("not-valid-base64!!!"); err == nil {
		t.Error("expected error for invalid base64, got nil")
	}
}

func TestAuthenticator_VerifyPlain_InvalidFormat(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	// Only one null separator instead of two
	plaintext := "testuser\x00testpass"
	encoded := base64.StdEncoding.EncodeToString([]byte(plaintext))

	if _, err := auth.VerifyPlain(encoded); err == nil {
		t.Error("expected error for invalid AUTH PLAIN format, got nil")
	}
}

func TestAuthenticator_VerifyLogin_Success(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	encodedUser := base64.StdEncoding.EncodeToString([]byte("testuser"))
	encodedPass := base64.StdEncoding.EncodeToString([]byte("testpass"))

	user, err := auth.VerifyLogin(encodedUser, encodedPass)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if user != "testuser" {
		t.Errorf("username: got %q, want %q", user, "testuser")
	}
}

func TestAuthenticator_VerifyLogin_WrongPassword(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	encodedUser := base64.StdEncoding.EncodeToString([]byte("testuser"))
	encodedPass := base64.StdEncoding.EncodeToString([]byte("wrongpass"))

	if _, err := auth.VerifyLogin(encodedUser, encodedPass); err == nil {
		t.Error("expected error for wrong password, got nil")
	}
}

func TestAuthenticator_VerifyLogin_InvalidBase64User(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	if _, err := auth.VerifyLogin("invalid!!!", base64.StdEncoding.EncodeToString([]byte("testpass"))); err == nil {
		t.Error("expected error for invalid base64 username, got nil")
	}
}

func TestAuthenticator_VerifyLogin_InvalidBase64Pass(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	if _, err := auth.VerifyLogin(base64.StdEncoding.EncodeToString([]byte("testuser")), "invalid!!!"); err == nil {
		t.Error("expected error for invalid base64 password, got nil")
	}
}
