package session

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if tok, err := s.Token(); err != nil || tok != "" {
		t.Fatalf("empty store Token = %q, %v", tok, err)
	}
	if err := s.SetToken("abc123"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	tok, err := s.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "abc123" {
		t.Fatalf("Token = %q, want abc123", tok)
	}
	if err := s.ClearToken(); err != nil {
		t.Fatalf("ClearToken: %v", err)
	}
	if tok, _ := s.Token(); tok != "" {
		t.Fatalf("token survived ClearToken: %q", tok)
	}
}

func TestSetOverwrites(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.Set(KeyLanguage, "en"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(KeyLanguage, "zh"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	lang, err := s.Get(KeyLanguage)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if lang != "zh" {
		t.Fatalf("language = %q, want zh", lang)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if p, err := s.GetProfile(); err != nil || p != nil {
		t.Fatalf("empty store GetProfile = %+v, %v", p, err)
	}
	want := Profile{UserID: "u-77", Name: "Analyst", Email: "a@example.org"}
	if err := s.SetProfile(want); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	got, err := s.GetProfile()
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got == nil || *got != want {
		t.Fatalf("GetProfile = %+v, want %+v", got, want)
	}
}
