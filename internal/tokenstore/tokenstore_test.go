package tokenstore

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestStore_SaveGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	s := New(path, zap.NewNop())

	ts := TokenSet{Provider: "openai", AccessToken: "abc123", RefreshToken: "r1", ExpiresAtMillis: 99999999}
	if err := s.Save(ts); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	got, ok := s.Get("openai")
	if !ok {
		t.Fatalf("Get(openai) returned not-found after Save")
	}
	if got != ts {
		t.Fatalf("Get returned %+v, want %+v", got, ts)
	}
}

func TestStore_PersistsAcrossFreshInstance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	s1 := New(path, zap.NewNop())
	ts := TokenSet{Provider: "gemini", AccessToken: "xyz", ExpiresAtMillis: 12345}
	if err := s1.Save(ts); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	s2 := New(path, zap.NewNop())
	got, ok := s2.Get("gemini")
	if !ok {
		t.Fatalf("fresh Store did not load persisted entry")
	}
	if got != ts {
		t.Fatalf("fresh Store loaded %+v, want %+v", got, ts)
	}
}

func TestStore_MissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.json")
	s := New(path, zap.NewNop())

	if _, ok := s.Get("openai"); ok {
		t.Fatalf("Get on empty store returned ok=true")
	}
	if !s.IsExpired("openai") {
		t.Fatalf("IsExpired on absent entry should be true")
	}
}

func TestStore_MalformedFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	if err := os.WriteFile(path, []byte("not json{{{"), 0o600); err != nil {
		t.Fatalf("setup WriteFile failed: %v", err)
	}
	s := New(path, zap.NewNop())

	if _, ok := s.Get("openai"); ok {
		t.Fatalf("Get on malformed store returned ok=true")
	}
}

func TestStore_Delete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	s := New(path, zap.NewNop())
	ts := TokenSet{Provider: "openai", AccessToken: "abc", ExpiresAtMillis: 1}
	if err := s.Save(ts); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if err := s.Delete("openai"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, ok := s.Get("openai"); ok {
		t.Fatalf("entry still present after Delete")
	}
}

func TestStore_GetAllIsASnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	s := New(path, zap.NewNop())
	if err := s.Save(TokenSet{Provider: "openai", AccessToken: "a", ExpiresAtMillis: 1}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	snap := s.GetAll()
	snap["openai"] = TokenSet{Provider: "openai", AccessToken: "mutated", ExpiresAtMillis: 2}

	got, _ := s.Get("openai")
	if got.AccessToken != "a" {
		t.Fatalf("mutating snapshot affected store state: got %q", got.AccessToken)
	}
}

func TestStore_IsExpired(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	s := New(path, zap.NewNop())
	if err := s.Save(TokenSet{Provider: "openai", AccessToken: "a", ExpiresAtMillis: 9999999999999}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if s.IsExpired("openai") {
		t.Fatalf("token with far-future expiry reported expired")
	}

	if err := s.Save(TokenSet{Provider: "gemini", AccessToken: "b", ExpiresAtMillis: 1}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if !s.IsExpired("gemini") {
		t.Fatalf("token with past expiry reported not expired")
	}
}
