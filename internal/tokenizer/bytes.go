package tokenizer

import (
	"fmt"
	"strings"
)

const (
	// Separator marks a record boundary in the corpus. It decodes to a
	// newline.
	Separator = 256
	// ByteVocab is the vocabulary size of Bytes.
	ByteVocab = 257
)

// Bytes maps every byte to its own id and newlines to Separator.
type Bytes struct{}

func (Bytes) Vocab() int { return ByteVocab }

func (Bytes) Encode(text string) ([]int, error) {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			ids[i] = Separator
			continue
		}
		ids[i] = int(text[i])
	}
	return ids, nil
}

func (Bytes) Decode(ids []int) (string, error) {
	var b strings.Builder
	b.Grow(len(ids))
	for _, id := range ids {
		switch {
		case id == Separator:
			b.WriteByte('\n')
		case id >= 0 && id < Separator:
			b.WriteByte(byte(id))
		default:
			return "", fmt.Errorf("tokenizer: id %d outside byte vocabulary", id)
		}
	}
	return b.String(), nil
}
