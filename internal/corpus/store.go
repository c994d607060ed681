package corpus

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Store holds every shard of a corpus in memory. It is read-only once Load
// returns and may be shared between goroutines.
type Store struct {
	Dir    string
	Shards []Shard
}

// Load eagerly reads shards [0, numPieces) from dir. The first shard that is
// missing, unreadable, empty or malformed aborts the load with a *LoadError.
func Load(dir string, numPieces int) (*Store, error) {
	if numPieces <= 0 {
		return nil, fmt.Errorf("corpus: num_pieces must be > 0, got %d", numPieces)
	}
	st := &Store{
		Dir:    dir,
		Shards: make([]Shard, 0, numPieces),
	}
	for i := 0; i < numPieces; i++ {
		path := ShardPath(dir, i)
		tokens, err := readShard(path)
		if err != nil {
			return nil, &LoadError{Index: i, Path: path, Err: err}
		}
		st.Shards = append(st.Shards, Shard{Index: i, Tokens: tokens})
	}
	return st, nil
}

// TotalTokens is the number of tokens across all shards.
func (s *Store) TotalTokens() int {
	n := 0
	for _, sh := range s.Shards {
		n += sh.Len()
	}
	return n
}

func (s *Store) Len() int {
	return len(s.Shards)
}

func readShard(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	size := stat.Size()
	if size == 0 {
		return nil, ErrEmptyShard
	}
	if size > int64(int(^uint(0)>>1)) {
		return nil, errors.New("shard file too large")
	}

	// Prefer mmap; the mapping only lives for the duration of the parse.
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		tokens, parseErr := parseTokens(data)
		_ = unix.Munmap(data)
		return tokens, parseErr
	}

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseTokens(data)
}

// parseTokens decodes whitespace separated non-negative decimal ids.
func parseTokens(data []byte) ([]int, error) {
	tokens := make([]int, 0, len(data)/4)
	const maxID = int(^uint32(0) >> 1)
	cur, inNum := 0, false
	for i, c := range data {
		switch {
		case c >= '0' && c <= '9':
			cur = cur*10 + int(c-'0')
			if cur > maxID {
				return nil, fmt.Errorf("%w at byte %d: overflow", ErrMalformed, i)
			}
			inNum = true
		case c == ' ' || c == '\n' || c == '\r' || c == '\t':
			if inNum {
				tokens = append(tokens, cur)
				cur, inNum = 0, false
			}
		default:
			return nil, fmt.Errorf("%w at byte %d: %q", ErrMalformed, i, c)
		}
	}
	if inNum {
		tokens = append(tokens, cur)
	}
	if len(tokens) == 0 {
		return nil, ErrEmptyShard
	}
	return tokens, nil
}
