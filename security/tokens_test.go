package security

import "testing"

func TestGenerateOpaqueToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token := GenerateOpaqueToken()
		if token == "" {
			t.Fatal("empty token")
		}
		// 32 random bytes base64url-encoded without padding.
		if len(token) != 43 {
			t.Fatalf("token length = %d, want 43", len(token))
		}
		if seen[token] {
			t.Fatalf("duplicate token after %d generations", i)
		}
		seen[token] = true
	}
}
