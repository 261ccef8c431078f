package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/grantline/grantline/storage"
	"github.com/grantline/grantline/storage/memory"
)

// Fixture credentials used across the test suites.
const (
	ClientID     = "c1"
	ClientSecret = "s1"
	ClientName   = "Example App"
	RedirectURI  = "https://app/cb"

	UserID   = "u1"
	Username = "alice"
	Password = "pw"
)

// GenerateRandomString generates a cryptographically secure random string of
// the given length.
func GenerateRandomString(length int) string {
	bytes := make([]byte, (length*3+3)/4)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(bytes)[:length]
}

// NewSeededStore creates an in-memory store pre-populated with the fixture
// client and user, and registers cleanup with the test.
func NewSeededStore(t *testing.T) *memory.Store {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	if err := store.RegisterClient(ClientID, ClientSecret, ClientName, RedirectURI); err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}
	if err := store.RegisterUser(&storage.User{
		ID:       UserID,
		Username: Username,
		Profile: storage.Profile{
			Username:    Username,
			Gender:      "female",
			DateOfBirth: "1990-01-01",
			Country:     "NL",
			City:        "Amsterdam",
		},
		Contacts: []storage.Contact{
			{Name: "bob", Email: "bob@example.com"},
		},
	}, Password); err != nil {
		t.Fatalf("RegisterUser() error = %v", err)
	}

	return store
}
