package store

import (
	"context"
	"testing"

	"github.com/zalando/go-keyring"
)

// Keyring tests share the package-level mock provider, so they do not run in parallel.

func TestKeyringStoreRoundTrip(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	s := NewKeyringStore("accountd-test")

	steve := testCredential(t, "Steve")
	alex := testCredential(t, "Alex")
	if err := s.Save(ctx, steve); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, alex); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, alex); err != nil {
		t.Fatalf("re-Save: %v", err)
	}
	if err := s.SetDefault(ctx, steve.ID); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}

	dir, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(dir.Users) != 2 || dir.Default != steve.ID {
		t.Fatalf("dir = %+v", dir)
	}

	if err = s.Delete(ctx, steve.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err = s.SetDefault(ctx, ""); err != nil {
		t.Fatalf("clear default: %v", err)
	}
	dir, err = s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dir.Users) != 1 || dir.Users[0].ID != alex.ID || dir.Default != "" {
		t.Fatalf("after delete = %+v", dir)
	}
}

func TestKeyringStoreSkipsMissingEntries(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	s := NewKeyringStore("")

	cred := testCredential(t, "Steve")
	if err := s.Save(ctx, cred); err != nil {
		t.Fatal(err)
	}
	if err := keyring.Delete(DefaultKeyringService, cred.ID); err != nil {
		t.Fatal(err)
	}
	dir, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(dir.Users) != 0 {
		t.Fatalf("users = %+v, want none", dir.Users)
	}
}
