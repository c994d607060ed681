package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type blob struct{ data []byte }

func (b *blob) MarshalBinary() ([]byte, error) { return append([]byte(nil), b.data...), nil }

func (b *blob) UnmarshalBinary(data []byte) error {
	b.data = append([]byte(nil), data...)
	return nil
}

type failing struct{}

func (failing) MarshalBinary() ([]byte, error) { return nil, errors.New("nope") }

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	saved, err := s.Save(ctx, EpochTag(1), Meta{RunID: "run-a", Epoch: 1, Step: 40, Loss: 2.5, NCtx: 64}, &blob{data: []byte("weights-1")})
	if err != nil {
		t.Fatal(err)
	}
	if saved.Tag != "epoch_1" || saved.Size != 9 || saved.SHA256 == "" {
		t.Fatalf("unexpected meta %+v", saved)
	}

	var got blob
	meta, err := s.Load("epoch_1", &got)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.data) != "weights-1" {
		t.Fatalf("state %q", got.data)
	}
	if meta.RunID != "run-a" || meta.Step != 40 || meta.NCtx != 64 || !meta.CreatedAt.Equal(saved.CreatedAt) {
		t.Fatalf("meta %+v, want %+v", meta, saved)
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			t.Fatalf("temporary entry %s left behind", e.Name())
		}
	}
}

func TestSaveReplacesTag(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	for _, w := range []string{"old", "new"} {
		if _, err := s.Save(ctx, FinalTag, Meta{RunID: "r"}, &blob{data: []byte(w)}); err != nil {
			t.Fatal(err)
		}
	}
	var got blob
	if _, err := s.Load(FinalTag, &got); err != nil {
		t.Fatal(err)
	}
	if string(got.data) != "new" {
		t.Fatalf("got %q, want new", got.data)
	}
	list, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("%d checkpoints listed, want 1", len(list))
	}
}

func TestSaveFailuresLeaveNothing(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Save(ctx, "../escape", Meta{}, &blob{}); !errors.Is(err, ErrInvalidTag) {
		t.Fatalf("got %v, want ErrInvalidTag", err)
	}
	if _, err := s.Save(ctx, "final", Meta{}, failing{}); err == nil {
		t.Fatal("expected marshal error")
	}
	if _, err := os.Stat(s.Path("final")); !os.IsNotExist(err) {
		t.Fatalf("failed save left %s", s.Path("final"))
	}
}

func TestLoadDetectsCorruption(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if _, err := s.Save(context.Background(), "final", Meta{}, &blob{data: []byte("abc")}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.Path("final"), stateFile), []byte("abd"), 0o644); err != nil {
		t.Fatal(err)
	}
	var got blob
	if _, err := s.Load("final", &got); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("got %v, want ErrCorrupt", err)
	}
	if _, err := s.Load("missing", &got); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListOrderAndResolve(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	for _, tag := range []string{EpochTag(1), EpochTag(2), FinalTag} {
		if _, err := s.Save(ctx, tag, Meta{RunID: "r"}, &blob{data: []byte(tag)}); err != nil {
			t.Fatal(err)
		}
	}
	list, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	var tags []string
	for _, m := range list {
		tags = append(tags, m.Tag)
	}
	if strings.Join(tags, ",") != "epoch_1,epoch_2,final" {
		t.Fatalf("order %v", tags)
	}

	dir, err := s.Resolve("epoch_2")
	if err != nil || dir != s.Path("epoch_2") {
		t.Fatalf("Resolve(tag) = %q, %v", dir, err)
	}
	dir, err = s.Resolve(s.Path("final"))
	if err != nil || dir != s.Path("final") {
		t.Fatalf("Resolve(path) = %q, %v", dir, err)
	}
	if _, err := s.Resolve("epoch_9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestCatalogLatest(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Catalog().Latest(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty catalog: got %v", err)
	}
	saves := []struct {
		run, tag string
		epoch    int
	}{
		{"a", "epoch_1", 1},
		{"b", "epoch_1", 1},
		{"a", "epoch_2", 2},
		{"b", "final", 1},
	}
	for _, sv := range saves {
		if _, err := s.Save(ctx, sv.tag, Meta{RunID: sv.run, Epoch: sv.epoch, Loss: 1.25}, &blob{data: []byte(sv.run)}); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := s.Catalog().Latest(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if latest.Tag != "epoch_2" || latest.Epoch != 2 || latest.Path != s.Path("epoch_2") || latest.Loss != 1.25 {
		t.Fatalf("latest for a: %+v", latest)
	}
	latest, err = s.Catalog().Latest(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if latest.RunID != "b" || latest.Tag != "final" {
		t.Fatalf("latest overall: %+v", latest)
	}

	all, err := s.Catalog().List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 || all[0].Tag != "final" {
		t.Fatalf("list: %+v", all)
	}
	two, err := s.Catalog().List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(two) != 2 {
		t.Fatalf("limited list has %d entries", len(two))
	}
}

func TestResolveInside(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Save(ctx, "final", Meta{RunID: "r"}, &blob{data: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(filepath.Dir(s.Dir), "elsewhere")
	other, err := Open(outside)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { other.Close() })
	if _, err := other.Save(ctx, "final", Meta{RunID: "o"}, &blob{data: []byte("y")}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		ref  string
		want string
		err  error
	}{
		{"tag", "final", s.Path("final"), nil},
		{"path inside", s.Path("final"), s.Path("final"), nil},
		{"missing tag", "epoch_3", "", ErrNotFound},
		{"store root", s.Dir, "", ErrOutsideStore},
		{"absolute path outside", other.Path("final"), "", ErrOutsideStore},
		{"escape through parent", filepath.Join(s.Dir, "..", "elsewhere", "final"), "", ErrOutsideStore},
		{"empty", "", "", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ResolveInside(tt.ref)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("ResolveInside(%q) error = %v, want %v", tt.ref, err, tt.err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ResolveInside(%q) = %q, %v; want %q", tt.ref, got, err, tt.want)
			}
		})
	}

	// The CLI resolver still accepts any checkpoint directory.
	if got, err := s.Resolve(other.Path("final")); err != nil || got != other.Path("final") {
		t.Fatalf("Resolve outside path = %q, %v", got, err)
	}
}
