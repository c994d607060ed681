package train

import (
	"errors"
	"fmt"
)

var ErrNonFiniteLoss = errors.New("train: non-finite loss")

// StepError aborts a run when the model fails to train on a batch or to
// apply an update. Checkpoints of completed epochs stay valid.
type StepError struct {
	Op    string
	Epoch int
	Piece int
	Batch int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("train: %s failed at epoch %d piece %d batch %d: %v", e.Op, e.Epoch, e.Piece, e.Batch, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// CheckpointError is returned when a checkpoint could not be written even
// after a retry. The in-memory model is still returned with it.
type CheckpointError struct {
	Tag      string
	Attempts int
	Err      error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("train: write checkpoint %s failed after %d attempts: %v", e.Tag, e.Attempts, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }
