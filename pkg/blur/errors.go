package blur

import (
	"errors"
	"fmt"

	"go-meanfilter/pkg/common"
)

var (
	// ErrInvalidConfig matches every *ConfigError.
	ErrInvalidConfig = errors.New("blur: invalid configuration")
	// ErrWorkerFailed matches every *WorkerError.
	ErrWorkerFailed = errors.New("blur: worker failed")
)

// ConfigError rejects a run before any worker starts.
type ConfigError struct {
	Field  string
	Value  int
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("blur: invalid %s %d: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// WorkerError reports a band that did not finish. The whole output is invalid.
type WorkerError struct {
	Band common.Band
	Err  error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("blur: %s failed: %v", e.Band, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

func (e *WorkerError) Is(target error) bool {
	return target == ErrWorkerFailed
}
