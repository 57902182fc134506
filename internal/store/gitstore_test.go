package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
)

func TestGitStoreCommitsEachMutation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repoDir := filepath.Join(t.TempDir(), "repo")
	s, err := NewGitStore(GitStoreConfig{RepoDir: repoDir})
	if err != nil {
		t.Fatalf("NewGitStore: %v", err)
	}
	if _, err = s.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cred := testCredential(t, "Steve")
	if err = s.Save(ctx, cred); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err = s.SetDefault(ctx, cred.ID); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	if err = s.Save(ctx, cred); err != nil {
		t.Fatalf("unchanged Save: %v", err)
	}
	if err = s.Delete(ctx, cred.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	repo, err := git.PlainOpen(repoDir)
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	iter, err := repo.Log(&git.LogOptions{})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	var messages []string
	_ = iter.ForEach(func(c *object.Commit) error {
		messages = append(messages, c.Message)
		return nil
	})
	if len(messages) != 3 {
		t.Fatalf("commits = %q, want 3 (save, default, remove)", messages)
	}

	reopened, err := NewGitStore(GitStoreConfig{RepoDir: repoDir})
	if err != nil {
		t.Fatal(err)
	}
	dir, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(dir.Users) != 0 || dir.Default != cred.ID {
		t.Fatalf("dir = %+v", dir)
	}
}
