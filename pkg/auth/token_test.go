package auth

import (
	"bytes"
	"strings"
	"testing"
)

func TestTokenGenerator_GenerateToken(t *testing.T) {
	tg := NewTokenGenerator()

	token, tokenHash, tokenPrefix, err := tg.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if !strings.HasPrefix(token, TokenPrefix) {
		t.Errorf("Token should start with %q, got %q", TokenPrefix, token)
	}

	// SHA256 = 64 hex chars
	if len(tokenHash) != 64 {
		t.Errorf("TokenHash length = %d, want 64", len(tokenHash))
	}

	if tokenPrefix != token[:DisplayPrefixLength] {
		t.Errorf("TokenPrefix = %q, want %q", tokenPrefix, token[:DisplayPrefixLength])
	}

	if tokenHash != HashToken(token) {
		t.Errorf("returned hash does not match HashToken(token)")
	}

	if err := ValidateTokenFormat(token); err != nil {
		t.Errorf("generated token failed format validation: %v", err)
	}
}

func TestTokenGenerator_GenerateToken_Uniqueness(t *testing.T) {
	tg := NewTokenGenerator()

	tokens := make(map[string]bool)
	hashes := make(map[string]bool)

	for i := 0; i < 100; i++ {
		token, tokenHash, _, err := tg.GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}

		if tokens[token] {
			t.Errorf("Duplicate token generated: %s", token)
		}
		if hashes[tokenHash] {
			t.Errorf("Duplicate token hash generated: %s", tokenHash)
		}

		tokens[token] = true
		hashes[tokenHash] = true
	}
}

func TestTokenGenerator_ShortRandomSource(t *testing.T) {
	tg := &TokenGenerator{random: bytes.NewReader([]byte{1, 2, 3})}
	if _, _, _, err := tg.GenerateToken(); err == nil {
		t.Fatal("expected error when the random source runs dry")
	}
}

func TestHashToken(t *testing.T) {
	got := HashToken("ih_test")
	if len(got) != 64 {
		t.Fatalf("hash length = %d, want 64", len(got))
	}
	if got != HashToken("ih_test") {
		t.Error("HashToken is not deterministic")
	}
	if got == HashToken("ih_tesT") {
		t.Error("different tokens must hash differently")
	}
}

func TestValidateTokenFormat(t *testing.T) {
	valid, _, _, err := NewTokenGenerator().GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", valid, false},
		{"empty", "", true},
		{"wrong prefix", "sk_" + valid[len(TokenPrefix):], true},
		{"prefix only", TokenPrefix, true},
		{"truncated", valid[:len(valid)-1], true},
		{"bad encoding", TokenPrefix + strings.Repeat("*", encodedLength), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTokenFormat(tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTokenFormat(%q) error = %v, wantErr %v", tt.token, err, tt.wantErr)
			}
		})
	}
}

func TestCompareHashes(t *testing.T) {
	h := HashToken("ih_a")
	if !CompareHashes(h, h) {
		t.Error("identical hashes should compare equal")
	}
	if CompareHashes(h, HashToken("ih_b")) {
		t.Error("different hashes should not compare equal")
	}
	if CompareHashes(h, h[:10]) {
		t.Error("hashes of different length should not compare equal")
	}
}

func TestDisplayPrefix(t *testing.T) {
	if got := DisplayPrefix("ih_abc"); got != "ih_abc" {
		t.Errorf("DisplayPrefix(short) = %q", got)
	}
	if got := DisplayPrefix("ih_0123456789abcdef"); got != "ih_01234567" {
		t.Errorf("DisplayPrefix() = %q, want ih_01234567", got)
	}
	if !IsAPIKeyToken("ih_x") || IsAPIKeyToken("eyJhbGciOi") {
		t.Error("IsAPIKeyToken misclassified a token")
	}
}
