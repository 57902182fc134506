package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/launcher-accounts/accountd/internal/account"
	"github.com/tidwall/gjson"
)

func testCredential(t *testing.T, name string) account.Credential {
	t.Helper()
	cred, err := account.NewLocalCredential(name, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewLocalCredential: %v", err)
	}
	return cred
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "accounts")
	s := NewFileStore(dir)

	empty, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load on missing dir: %v", err)
	}
	if len(empty.Users) != 0 || empty.Default != "" {
		t.Fatalf("expected empty directory, got %+v", empty)
	}

	steve := testCredential(t, "Steve")
	alex := testCredential(t, "Alex")
	for _, cred := range []account.Credential{steve, alex} {
		if err = s.Save(ctx, cred); err != nil {
			t.Fatalf("Save(%s): %v", cred.Username, err)
		}
	}
	if err = s.SetDefault(ctx, alex.ID); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}

	path, _ := s.UserPath(steve.ID)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat record: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("record mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Users) != 2 || loaded.Default != alex.ID {
		t.Fatalf("loaded = %+v", loaded)
	}

	if err = s.Delete(ctx, alex.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err = s.Delete(ctx, alex.ID); err != nil {
		t.Fatalf("second Delete should be a no-op: %v", err)
	}
	if err = s.SetDefault(ctx, ""); err != nil {
		t.Fatalf("clear default: %v", err)
	}
	index, err := os.ReadFile(s.DirectoryPath())
	if err != nil {
		t.Fatal(err)
	}
	if gjson.GetBytes(index, defaultUserKey).Exists() {
		t.Fatalf("default_user should be removed, index = %s", index)
	}
	loaded, _ = s.Load(ctx)
	if len(loaded.Users) != 1 || loaded.Users[0].ID != steve.ID || loaded.Default != "" {
		t.Fatalf("after delete = %+v", loaded)
	}
}

func TestFileStoreSkipsForeignAndCorruptFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewFileStore(dir)
	good := testCredential(t, "Steve")
	if err := s.Save(context.Background(), good); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"notes.txt": "hello",
		"user-" + uuid.NewString() + ".json": "{not json",
		"user-empty.json":                    "",
		directoryFileName + ".tmp":           "{}",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	loaded, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Users) != 1 || loaded.Users[0].ID != good.ID {
		t.Fatalf("loaded = %+v", loaded.Users)
	}
}

func TestFileStoreRejectsNonUUIDIDs(t *testing.T) {
	t.Parallel()

	s := NewFileStore(t.TempDir())
	tests := []string{"", "../escape", "not-a-uuid"}
	for _, id := range tests {
		if err := s.Save(context.Background(), account.Credential{ID: id, Username: "x"}); err == nil {
			t.Errorf("Save(%q) should fail", id)
		}
		if err := s.Delete(context.Background(), id); err == nil {
			t.Errorf("Delete(%q) should fail", id)
		}
	}
}

func TestFileStoreMirrorPrunesStaleRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewFileStore(t.TempDir())
	stale := testCredential(t, "Old")
	if err := s.Save(ctx, stale); err != nil {
		t.Fatal(err)
	}

	fresh := testCredential(t, "New")
	if err := s.Mirror(ctx, account.Directory{Users: []account.Credential{fresh}, Default: fresh.ID}); err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Users) != 1 || loaded.Users[0].ID != fresh.ID || loaded.Default != fresh.ID {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestFileStoreBacksAccountStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	first := account.NewStore(NewFileStore(dir))
	cred := testCredential(t, "Steve")
	if err := first.AddOrReplace(ctx, cred); err != nil {
		t.Fatal(err)
	}
	if err := first.SetDefault(ctx, cred.ID); err != nil {
		t.Fatal(err)
	}

	second := account.NewStore(NewFileStore(dir))
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if second.Default() != cred.ID {
		t.Fatalf("default = %q, want %q", second.Default(), cred.ID)
	}
	got, ok := second.Get(cred.ID)
	if !ok || got.Username != "Steve" || got.Type != account.AccountLocal {
		t.Fatalf("Get = %+v, %v", got, ok)
	}
}

func TestIsUserFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"user-0a7c.json", true},
		{"/tmp/x/user-abc.JSON", true},
		{"directory.json", false},
		{"user-abc.json.tmp", false},
		{"other.json", false},
	}
	for _, tt := range tests {
		if got := IsUserFile(tt.name); got != tt.want {
			t.Errorf("IsUserFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
