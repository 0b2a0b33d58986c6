package orchestrator

import (
	"errors"
	"fmt"
)

type StorageOp string

const (
	OpPutOutput     StorageOp = "put_output"
	OpUpdateRun     StorageOp = "update_run"
	OpDescribeAsset StorageOp = "describe_asset"
)

var ErrStorage = errors.New("storage failure")

// StorageError is a failed write of an output or run record, or a failed
// metadata read while naming an output. It aborts the run.
type StorageError struct {
	Op    StorageOp
	RunID string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("run %s: %s: %v", e.RunID, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
