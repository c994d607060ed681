package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Encoder turns raw text into token ids.
type Encoder interface {
	Encode(text string) ([]int, error)
}

// BuildShards splits text into numPieces runs of equal character length,
// encodes each run and writes it as shard i of dir. The remainder of the
// division is appended to the last piece so the shards, concatenated in
// index order, cover the whole text. It returns the token count per shard.
func BuildShards(text string, enc Encoder, dir string, numPieces int) ([]int, error) {
	if enc == nil {
		return nil, errors.New("corpus: nil encoder")
	}
	if numPieces <= 0 {
		return nil, fmt.Errorf("corpus: num_pieces must be > 0, got %d", numPieces)
	}
	runes := []rune(text)
	per := len(runes) / numPieces
	if per == 0 {
		return nil, fmt.Errorf("corpus: text of %d characters cannot fill %d pieces", len(runes), numPieces)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	counts := make([]int, numPieces)
	for i := 0; i < numPieces; i++ {
		start, end := per*i, per*(i+1)
		if i == numPieces-1 {
			end = len(runes)
		}
		ids, err := enc.Encode(string(runes[start:end]))
		if err != nil {
			return nil, fmt.Errorf("corpus: encode piece %d: %w", i, err)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("corpus: piece %d encoded to no tokens", i)
		}
		if err := writeShardAtomic(ShardPath(dir, i), ids); err != nil {
			return nil, fmt.Errorf("corpus: write piece %d: %w", i, err)
		}
		counts[i] = len(ids)
	}
	return counts, nil
}

// writeShardAtomic writes ids to a temporary file next to dest and renames it
// into place, so a reader never observes a partially written shard.
func writeShardAtomic(dest string, ids []int) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-shard-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	bw := bufio.NewWriterSize(tmp, 1<<16)
	buf := make([]byte, 0, 16)
	for i, id := range ids {
		if i > 0 {
			if err := bw.WriteByte(' '); err != nil {
				return cleanup(err)
			}
		}
		buf = strconv.AppendInt(buf[:0], int64(id), 10)
		if _, err := bw.Write(buf); err != nil {
			return cleanup(err)
		}
	}
	if err := bw.WriteByte('\n'); err != nil {
		return cleanup(err)
	}
	if err := bw.Flush(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	_ = os.Chmod(tmpPath, 0o644)
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
