// Package checkpoint stores model snapshots on disk under a tag, one
// directory per tag, and records every save in a sqlite catalog.
package checkpoint

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	FinalTag     = "final"
	stateFile    = "model.bin"
	manifestFile = "manifest.json"
	catalogFile  = "catalog.db"
)

var (
	ErrNotFound   = errors.New("checkpoint: not found")
	ErrCorrupt    = errors.New("checkpoint: corrupt")
	ErrInvalidTag = errors.New("checkpoint: invalid tag")
	// ErrOutsideStore rejects references that leave the store directory.
	ErrOutsideStore = errors.New("checkpoint: outside store")
)

var tagPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// EpochTag names the checkpoint written after epoch n (1-based).
func EpochTag(n int) string {
	return "epoch_" + strconv.Itoa(n)
}

// ValidateTag rejects tags that could escape the store directory.
func ValidateTag(tag string) error {
	if !tagPattern.MatchString(tag) {
		return fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}
	return nil
}

// Meta is written next to the model state as manifest.json.
type Meta struct {
	RunID     string    `json:"run_id"`
	Tag       string    `json:"tag"`
	Epoch     int       `json:"epoch"`
	Step      int       `json:"step"`
	Loss      float64   `json:"loss"`
	NCtx      int       `json:"n_ctx"`
	Vocab     int       `json:"vocab"`
	Device    string    `json:"device,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
}
