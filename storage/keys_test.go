package storage

import "testing"

func TestKey(t *testing.T) {
	tests := []struct {
		namespace string
		id        string
		want      string
	}{
		{NamespaceGrantCode, "abc", "grant-code:abc"},
		{NamespaceAccessToken, "xyz", "access-token:xyz"},
		{"custom", "id:with:colons", "custom:id:with:colons"},
	}

	for _, tt := range tests {
		if got := Key(tt.namespace, tt.id); got != tt.want {
			t.Errorf("Key(%q, %q) = %q, want %q", tt.namespace, tt.id, got, tt.want)
		}
	}
}

func TestKeyBuilders(t *testing.T) {
	if got := GrantCodeKey("c"); got != "grant-code:c" {
		t.Errorf("GrantCodeKey = %q", got)
	}
	if got := AccessTokenKey("t"); got != "access-token:t" {
		t.Errorf("AccessTokenKey = %q", got)
	}
}
