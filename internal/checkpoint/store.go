package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Store keeps checkpoints under Dir/<tag>/.
type Store struct {
	Dir     string
	catalog *Catalog
	now     func() time.Time
}

// Open creates dir if needed and opens its catalog.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: create %s: %w", dir, err)
	}
	cat, err := OpenCatalog(filepath.Join(dir, catalogFile))
	if err != nil {
		return nil, err
	}
	return &Store{Dir: dir, catalog: cat, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.Close()
}

// Catalog returns the store's save history.
func (s *Store) Catalog() *Catalog { return s.catalog }

// Path returns the directory a tag is stored in.
func (s *Store) Path(tag string) string {
	return filepath.Join(s.Dir, tag)
}

// Save writes state under tag, replacing any previous checkpoint with the
// same tag. The files are written into a temporary directory inside Dir and
// promoted by rename, so a reader never sees a partial checkpoint.
func (s *Store) Save(ctx context.Context, tag string, meta Meta, state encoding.BinaryMarshaler) (Meta, error) {
	if err := ValidateTag(tag); err != nil {
		return Meta{}, err
	}
	if err := ctx.Err(); err != nil {
		return Meta{}, err
	}
	data, err := state.MarshalBinary()
	if err != nil {
		return Meta{}, fmt.Errorf("checkpoint: encode %s: %w", tag, err)
	}
	sum := sha256.Sum256(data)
	meta.Tag = tag
	meta.Size = int64(len(data))
	meta.SHA256 = hex.EncodeToString(sum[:])
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = s.now().UTC()
	}
	manifest, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Meta{}, fmt.Errorf("checkpoint: encode manifest: %w", err)
	}

	tmp, err := os.MkdirTemp(s.Dir, ".tmp-"+tag+"-")
	if err != nil {
		return Meta{}, fmt.Errorf("checkpoint: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := writeFileSync(filepath.Join(tmp, stateFile), data); err != nil {
		return Meta{}, err
	}
	if err := writeFileSync(filepath.Join(tmp, manifestFile), append(manifest, '\n')); err != nil {
		return Meta{}, err
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		return Meta{}, fmt.Errorf("checkpoint: %w", err)
	}
	if err := promote(tmp, s.Path(tag)); err != nil {
		return Meta{}, err
	}

	if s.catalog != nil {
		if err := s.catalog.Record(ctx, meta, s.Path(tag)); err != nil {
			return meta, err
		}
	}
	return meta, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("checkpoint: write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("checkpoint: sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// promote moves dir to dst. An existing dst is moved aside first and removed
// once the new one is in place.
func promote(dir, dst string) error {
	old := ""
	if _, err := os.Stat(dst); err == nil {
		old = filepath.Join(filepath.Dir(dst), ".old"+filepath.Base(dir))
		if err := os.Rename(dst, old); err != nil {
			return fmt.Errorf("checkpoint: move aside %s: %w", dst, err)
		}
	}
	if err := os.Rename(dir, dst); err != nil {
		if old != "" {
			_ = os.Rename(old, dst)
		}
		return fmt.Errorf("checkpoint: promote %s: %w", dst, err)
	}
	if old != "" {
		_ = os.RemoveAll(old)
	}
	return nil
}

// Load restores the checkpoint stored under tag into state.
func (s *Store) Load(tag string, state encoding.BinaryUnmarshaler) (Meta, error) {
	if err := ValidateTag(tag); err != nil {
		return Meta{}, err
	}
	return LoadDir(s.Path(tag), state)
}

// LoadDir restores a checkpoint directory written by Save.
func LoadDir(dir string, state encoding.BinaryUnmarshaler) (Meta, error) {
	meta, err := ReadMeta(dir)
	if err != nil {
		return Meta{}, err
	}
	data, err := os.ReadFile(filepath.Join(dir, stateFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Meta{}, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return Meta{}, fmt.Errorf("checkpoint: %w", err)
	}
	sum := sha256.Sum256(data)
	if int64(len(data)) != meta.Size || hex.EncodeToString(sum[:]) != meta.SHA256 {
		return Meta{}, fmt.Errorf("%w: %s: checksum mismatch", ErrCorrupt, dir)
	}
	if err := state.UnmarshalBinary(data); err != nil {
		return Meta{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, dir, err)
	}
	return meta, nil
}

// ReadMeta reads the manifest of a checkpoint directory.
func ReadMeta(dir string) (Meta, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Meta{}, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return Meta{}, fmt.Errorf("checkpoint: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Meta{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, dir, err)
	}
	return meta, nil
}

// List returns the manifests of every checkpoint in the store, oldest first.
func (s *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	var out []Meta
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		meta, err := ReadMeta(s.Path(e.Name()))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	slices.SortFunc(out, func(a, b Meta) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Tag, b.Tag)
	})
	return out, nil
}

// Resolve maps a --pretrained value to a checkpoint directory. ref is either
// a path to a checkpoint directory or a tag inside s.
func (s *Store) Resolve(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrNotFound)
	}
	if _, err := os.Stat(filepath.Join(ref, manifestFile)); err == nil {
		return ref, nil
	}
	if ValidateTag(ref) == nil {
		dir := s.Path(ref)
		if _, err := os.Stat(filepath.Join(dir, manifestFile)); err == nil {
			return dir, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
}

// ResolveInside is Resolve for untrusted references: ref must be a tag or a
// path lexically inside Dir. A tag is only looked up in Dir.
func (s *Store) ResolveInside(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrNotFound)
	}
	dir := ref
	if ValidateTag(ref) == nil {
		dir = s.Path(ref)
	} else if !s.Contains(ref) {
		return "", fmt.Errorf("%w: %s", ErrOutsideStore, ref)
	}
	if _, err := os.Stat(filepath.Join(dir, manifestFile)); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return dir, nil
}

// Contains reports whether path names an entry below Dir. The check is
// lexical; symlinks are not followed.
func (s *Store) Contains(path string) bool {
	root, err := filepath.Abs(s.Dir)
	if err != nil {
		return false
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}
