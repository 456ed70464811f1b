package credentials

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}

	cred, err := store.Load()
	if err != nil || cred != nil {
		t.Fatalf("expected empty store, got %+v, %v", cred, err)
	}

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	err = store.Save(&Credential{
		Token:    &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", Expiry: expiry},
		IDToken:  "id-token",
		Username: "user@example.com",
	})
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected credentials file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	reopened, _ := NewFileStore(path)
	got, err := reopened.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got == nil || got.Token.AccessToken != "access" || got.IDToken != "id-token" || got.Username != "user@example.com" {
		t.Fatalf("unexpected credential: %+v", got)
	}
	if !got.Token.Expiry.Equal(expiry) {
		t.Fatalf("expected expiry %v, got %v", expiry, got.Token.Expiry)
	}
	if !got.Valid() {
		t.Fatal("expected credential to be valid")
	}

	if err := reopened.Clear(); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}
	if err := reopened.Clear(); err != nil {
		t.Fatalf("second Clear returned error: %v", err)
	}
	got, err = reopened.Load()
	if err != nil || got != nil {
		t.Fatalf("expected cleared store, got %+v, %v", got, err)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	store, _ := NewFileStore(path)
	if _, err := store.Load(); err == nil {
		t.Fatal("expected parse error for corrupt file")
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	store := NewMemoryStore()
	cred := &Credential{Token: &oauth2.Token{AccessToken: "a"}}
	if err := store.Save(cred); err != nil {
		t.Fatal(err)
	}
	cred.Username = "mutated"

	got, _ := store.Load()
	if got.Username != "" {
		t.Fatalf("expected stored copy to be isolated, got %q", got.Username)
	}

	_ = store.Clear()
	if got, _ := store.Load(); got != nil {
		t.Fatalf("expected nil after clear, got %+v", got)
	}
}

func TestCredentialValidExpired(t *testing.T) {
	cred := &Credential{Token: &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(-time.Minute)}}
	if cred.Valid() {
		t.Fatal("expected expired credential to be invalid")
	}
	var missing *Credential
	if missing.Valid() {
		t.Fatal("expected nil credential to be invalid")
	}
}
