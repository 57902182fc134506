package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnforceLogDirSizeLimit(t *testing.T) {
	t.Parallel()

	type file struct {
		name string
		size int
		at   int64
	}
	cases := []struct {
		name        string
		files       []file
		limit       int64
		wantDeleted int
		wantGone    []string
		wantKept    []string
	}{
		{
			name:        "oldest removed first",
			files:       []file{{"old.log", 60, 1}, {"mid.log", 60, 2}, {"main.log", 60, 3}},
			limit:       120,
			wantDeleted: 1,
			wantGone:    []string{"old.log"},
			wantKept:    []string{"mid.log", "main.log"},
		},
		{
			name:        "protected file survives even when oldest",
			files:       []file{{"main.log", 200, 1}, {"other.log", 50, 2}},
			limit:       100,
			wantDeleted: 1,
			wantGone:    []string{"other.log"},
			wantKept:    []string{"main.log"},
		},
		{
			name:        "non log files ignored",
			files:       []file{{"user-1.json", 500, 1}, {"a.log", 10, 2}},
			limit:       100,
			wantDeleted: 0,
			wantKept:    []string{"user-1.json", "a.log"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			for _, f := range tc.files {
				writeLogFile(t, filepath.Join(dir, f.name), f.size, time.Unix(f.at, 0))
			}
			deleted, err := enforceLogDirSizeLimit(dir, tc.limit, filepath.Join(dir, "main.log"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if deleted != tc.wantDeleted {
				t.Fatalf("deleted = %d, want %d", deleted, tc.wantDeleted)
			}
			for _, name := range tc.wantGone {
				if _, errStat := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(errStat) {
					t.Errorf("expected %s removed, stat error: %v", name, errStat)
				}
			}
			for _, name := range tc.wantKept {
				if _, errStat := os.Stat(filepath.Join(dir, name)); errStat != nil {
					t.Errorf("expected %s kept, stat error: %v", name, errStat)
				}
			}
		})
	}
}

func TestEnforceLogDirSizeLimitMissingDir(t *testing.T) {
	t.Parallel()

	deleted, err := enforceLogDirSizeLimit(filepath.Join(t.TempDir(), "nope"), 10, "")
	if err != nil || deleted != 0 {
		t.Fatalf("deleted=%d err=%v", deleted, err)
	}
}

func writeLogFile(t *testing.T, path string, size int, modTime time.Time) {
	t.Helper()

	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("set times: %v", err)
	}
}
