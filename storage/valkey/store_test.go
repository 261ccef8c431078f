package valkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/grantline/grantline/storage"
)

// testStore creates a store connected to a local Valkey instance. Tests are
// skipped when VALKEY_TEST_ADDR is unset and no local instance answers. Each
// test gets its own key prefix for isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("grantlinetest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all keys under the test's prefix.
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func TestStore_GrantCodeRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	grant := &storage.GrantCode{
		Code:        "vk-code-1",
		ClientID:    "c1",
		UserID:      "u1",
		Scope:       "user_info contacts",
		RedirectURI: "https://app/cb",
		IssuedAt:    time.Now().Truncate(time.Second),
	}
	if err := store.SaveGrantCode(ctx, grant, time.Minute); err != nil {
		t.Fatalf("SaveGrantCode() error = %v", err)
	}

	got, err := store.GetAndDeleteGrantCode(ctx, grant.Code)
	if err != nil {
		t.Fatalf("GetAndDeleteGrantCode() error = %v", err)
	}
	if got.ClientID != grant.ClientID || got.Scope != grant.Scope || got.RedirectURI != grant.RedirectURI {
		t.Errorf("grant = %+v, want %+v", got, grant)
	}

	if _, err := store.GetAndDeleteGrantCode(ctx, grant.Code); !errors.Is(err, storage.ErrGrantCodeNotFound) {
		t.Errorf("second read: error = %v, want ErrGrantCodeNotFound", err)
	}
}

func TestStore_GrantCodeTTL(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	grant := &storage.GrantCode{Code: "vk-ttl", ClientID: "c1", UserID: "u1"}
	if err := store.SaveGrantCode(ctx, grant, time.Second); err != nil {
		t.Fatalf("SaveGrantCode() error = %v", err)
	}

	time.Sleep(1500 * time.Millisecond)
	if _, err := store.GetAndDeleteGrantCode(ctx, grant.Code); !errors.Is(err, storage.ErrGrantCodeNotFound) {
		t.Errorf("expired code: error = %v, want ErrGrantCodeNotFound", err)
	}
}

func TestStore_GetAndDeleteGrantCode_SingleWinner(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	grant := &storage.GrantCode{Code: "vk-contested", ClientID: "c1", UserID: "u1"}
	if err := store.SaveGrantCode(ctx, grant, time.Minute); err != nil {
		t.Fatalf("SaveGrantCode() error = %v", err)
	}

	const readers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			if _, err := store.GetAndDeleteGrantCode(ctx, grant.Code); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1 (GETDEL must be atomic)", winners)
	}
}

func TestStore_AccessTokenRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	token := &storage.AccessToken{
		Token:    "vk-token-1",
		UserID:   "u1",
		Scope:    "user_info",
		IssuedAt: time.Now().Truncate(time.Second),
	}
	if err := store.SaveAccessToken(ctx, token, time.Minute); err != nil {
		t.Fatalf("SaveAccessToken() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := store.GetAccessToken(ctx, token.Token)
		if err != nil {
			t.Fatalf("GetAccessToken() error = %v", err)
		}
		if got.UserID != "u1" || got.Scope != "user_info" {
			t.Errorf("token = %+v", got)
		}
	}

	if err := store.DeleteAccessToken(ctx, token.Token); err != nil {
		t.Fatalf("DeleteAccessToken() error = %v", err)
	}
	if _, err := store.GetAccessToken(ctx, token.Token); !errors.Is(err, storage.ErrAccessTokenNotFound) {
		t.Errorf("after delete: error = %v, want ErrAccessTokenNotFound", err)
	}
}

func TestStore_Credentials(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.RegisterClient(ctx, "vk-c1", "vk-s1", "Valkey App", "https://app/cb"); err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}
	if err := store.RegisterUser(ctx, &storage.User{ID: "vk-u1", Username: "vkalice"}, "pw"); err != nil {
		t.Fatalf("RegisterUser() error = %v", err)
	}

	client, err := store.FindClient(ctx, "vk-c1")
	if err != nil {
		t.Fatalf("FindClient() error = %v", err)
	}
	if client.Name != "Valkey App" {
		t.Errorf("client = %+v", client)
	}

	if err := store.VerifyClientSecret(ctx, "vk-c1", "vk-s1"); err != nil {
		t.Errorf("VerifyClientSecret() error = %v", err)
	}
	if err := store.VerifyClientSecret(ctx, "vk-c1", "bad"); !errors.Is(err, storage.ErrInvalidCredentials) {
		t.Errorf("wrong secret: error = %v, want ErrInvalidCredentials", err)
	}

	userID, err := store.VerifyUserPassword(ctx, "vkalice", "pw")
	if err != nil || userID != "vk-u1" {
		t.Errorf("VerifyUserPassword() = %q, %v; want vk-u1, nil", userID, err)
	}
	if _, err := store.VerifyUserPassword(ctx, "vkalice", "bad"); !errors.Is(err, storage.ErrInvalidCredentials) {
		t.Errorf("wrong password: error = %v, want ErrInvalidCredentials", err)
	}
}

func TestStore_IdentifierLengthLimit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	long := make([]byte, MaxTokenLength+1)
	for i := range long {
		long[i] = 'a'
	}

	if _, err := store.GetAndDeleteGrantCode(ctx, string(long)); err == nil {
		t.Error("oversized grant code identifier must be rejected")
	}
	if _, err := store.GetAccessToken(ctx, string(long)); err == nil {
		t.Error("oversized token identifier must be rejected")
	}
}
