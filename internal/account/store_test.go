package account

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type memPersister struct {
	mu       sync.Mutex
	dir      Directory
	failSave bool
	failDel  bool
	failDef  bool
	saves    int
}

func (m *memPersister) Load(context.Context) (Directory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Directory{Users: append([]Credential(nil), m.dir.Users...), Default: m.dir.Default}, nil
}

func (m *memPersister) Save(_ context.Context, cred Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return errors.New("disk full")
	}
	m.saves++
	for i := range m.dir.Users {
		if m.dir.Users[i].ID == cred.ID {
			m.dir.Users[i] = cred
			return nil
		}
	}
	m.dir.Users = append(m.dir.Users, cred)
	return nil
}

func (m *memPersister) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDel {
		return errors.New("read-only")
	}
	for i := range m.dir.Users {
		if m.dir.Users[i].ID == id {
			m.dir.Users = append(m.dir.Users[:i], m.dir.Users[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memPersister) SetDefault(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDef {
		return errors.New("read-only")
	}
	m.dir.Default = id
	return nil
}

func testCredential(name string) Credential {
	return Credential{
		ID:        uuid.NewString(),
		Username:  name,
		Type:      AccountMicrosoft,
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestStoreDefaultUserLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &memPersister{}
	s := NewStore(p)
	u1 := testCredential("U1")

	if err := s.SetDefault(ctx, u1.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("SetDefault on empty store = %v, want ErrUserNotFound", err)
	}
	if err := s.AddOrReplace(ctx, u1); err != nil {
		t.Fatalf("AddOrReplace: %v", err)
	}
	if err := s.SetDefault(ctx, u1.ID); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	if got := s.Default(); got != u1.ID {
		t.Fatalf("Default() = %q, want %q", got, u1.ID)
	}
	if err := s.Remove(ctx, u1.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := s.Default(); got != "" {
		t.Fatalf("Default() after removing default = %q, want empty", got)
	}
	if users := s.List(); len(users) != 0 {
		t.Fatalf("List() = %v, want empty", users)
	}
	if p.dir.Default != "" || len(p.dir.Users) != 0 {
		t.Fatalf("persisted directory not cleared: %+v", p.dir)
	}
}

func TestStoreRemoveAbsentIsNoop(t *testing.T) {
	t.Parallel()

	s := NewStore(&memPersister{failDel: true})
	if err := s.Remove(context.Background(), uuid.NewString()); err != nil {
		t.Fatalf("Remove of absent user = %v, want nil", err)
	}
}

func TestStoreRandomSequencesMatchModel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))
	pool := make([]Credential, 6)
	for i := range pool {
		pool[i] = testCredential(string(rune('a' + i)))
	}

	for round := 0; round < 50; round++ {
		s := NewStore(&memPersister{})
		model := map[string]bool{}
		for step := 0; step < 40; step++ {
			cred := pool[rng.IntN(len(pool))]
			switch rng.IntN(3) {
			case 0, 1:
				if err := s.AddOrReplace(ctx, cred); err != nil {
					t.Fatalf("AddOrReplace: %v", err)
				}
				model[cred.ID] = true
			default:
				if err := s.Remove(ctx, cred.ID); err != nil {
					t.Fatalf("Remove: %v", err)
				}
				delete(model, cred.ID)
			}
			if rng.IntN(4) == 0 {
				err := s.SetDefault(ctx, cred.ID)
				if model[cred.ID] != (err == nil) {
					t.Fatalf("SetDefault(%s) err=%v but present=%v", cred.ID, err, model[cred.ID])
				}
			}
			if def := s.Default(); def != "" && !model[def] {
				t.Fatalf("default %s points at a removed user", def)
			}
		}
		got := s.List()
		if len(got) != len(model) {
			t.Fatalf("round %d: store has %d users, model %d", round, len(got), len(model))
		}
		for _, cred := range got {
			if !model[cred.ID] {
				t.Fatalf("round %d: unexpected user %s", round, cred.ID)
			}
		}
	}
}

func TestStoreAddOrReplaceOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore(nil)
	cred := testCredential("steve")
	if err := s.AddOrReplace(ctx, cred); err != nil {
		t.Fatal(err)
	}
	renamed := cred
	renamed.Username = "alex"
	if err := s.AddOrReplace(ctx, renamed); err != nil {
		t.Fatal(err)
	}
	got, ok := s.Get(cred.ID)
	if !ok || got.Username != "alex" || s.Len() != 1 {
		t.Fatalf("expected single replaced record, got %+v (len %d)", got, s.Len())
	}
}

func TestStoreRollsBackOnPersistFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &memPersister{}
	s := NewStore(p)
	keep := testCredential("keep")
	if err := s.AddOrReplace(ctx, keep); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDefault(ctx, keep.ID); err != nil {
		t.Fatal(err)
	}

	p.failSave = true
	if err := s.AddOrReplace(ctx, testCredential("lost")); !errors.Is(err, ErrStorage) {
		t.Fatalf("AddOrReplace = %v, want ErrStorage", err)
	}
	if s.Len() != 1 {
		t.Fatalf("failed save must not change memory, len=%d", s.Len())
	}

	p.failDel = true
	if err := s.Remove(ctx, keep.ID); !errors.Is(err, ErrStorage) {
		t.Fatalf("Remove = %v, want ErrStorage", err)
	}
	if _, ok := s.Get(keep.ID); !ok || s.Default() != keep.ID {
		t.Fatal("failed delete must keep the user and default pointer")
	}
}

func TestStoreListSnapshotIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore(nil)
	_ = s.AddOrReplace(ctx, testCredential("b"))
	_ = s.AddOrReplace(ctx, testCredential("a"))

	snap := s.List()
	if snap[0].Username != "a" || snap[1].Username != "b" {
		t.Fatalf("List not ordered by username: %v", snap)
	}
	snap[0].Username = "mutated"
	if got, _ := s.Get(snap[0].ID); got.Username == "mutated" {
		t.Fatal("List must return copies")
	}
}

func TestStoreLoadDropsDanglingDefault(t *testing.T) {
	t.Parallel()

	cred := testCredential("steve")
	p := &memPersister{dir: Directory{
		Users:   []Credential{cred, {ID: "not-a-uuid", Username: "x"}},
		Default: uuid.NewString(),
	}}
	s := NewStore(p)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("invalid records should be skipped, len=%d", s.Len())
	}
	if s.Default() != "" {
		t.Fatalf("dangling default should be cleared, got %q", s.Default())
	}
}

func TestStoreLoadCanonicalizesIDs(t *testing.T) {
	t.Parallel()

	cred := testCredential("alex")
	canonical := cred.ID
	cred.ID = strings.ToUpper(canonical)
	p := &memPersister{dir: Directory{Users: []Credential{cred}, Default: cred.ID}}
	s := NewStore(p)
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, ok := s.Get(canonical); !ok || got.ID != canonical {
		t.Fatalf("Get(%s) = %+v, %v", canonical, got, ok)
	}
	if s.Default() != canonical {
		t.Fatalf("Default() = %q, want %q", s.Default(), canonical)
	}
	if err := s.SetDefault(ctx, canonical); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	if err := s.Remove(ctx, canonical); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s.Len() != 0 || s.Default() != "" {
		t.Fatalf("after remove len=%d default=%q", s.Len(), s.Default())
	}
}

func TestStoreConcurrentMutations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &memPersister{}
	s := NewStore(p)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred := testCredential("player")
			if err := s.AddOrReplace(ctx, cred); err != nil {
				t.Error(err)
				return
			}
			_ = s.SetDefaultIfUnset(ctx, cred.ID)
		}()
	}
	wg.Wait()
	if s.Len() != 32 || p.saves != 32 {
		t.Fatalf("len=%d saves=%d, want 32", s.Len(), p.saves)
	}
	if _, ok := s.Get(s.Default()); !ok {
		t.Fatal("default must reference a stored user")
	}
}

func TestStoreMutationHook(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore(nil)
	var ops []string
	s.OnMutate(func(op string) { ops = append(ops, op) })

	cred := testCredential("steve")
	_ = s.AddOrReplace(ctx, cred)
	_ = s.SetDefault(ctx, cred.ID)
	_ = s.Remove(ctx, cred.ID)

	want := []string{"save", "default", "delete", "default"}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("ops = %v, want %v", ops, want)
		}
	}
}
