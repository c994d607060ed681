package corpus

import (
	"fmt"
	"path/filepath"
)

// Shard is one piece of the tokenized corpus. Shard boundaries are arbitrary
// splits of the running text, not document boundaries.
type Shard struct {
	Index  int
	Tokens []int
}

func (s Shard) Len() int {
	return len(s.Tokens)
}

// ShardPath returns the file that holds shard i inside dir.
func ShardPath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("tokenized_train_%d.txt", i))
}
