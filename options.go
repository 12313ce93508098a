package tbf

import (
	"fmt"

	"github.com/mwantia/tbf/log"
)

// BackendOptions carries the settings shared by all backend implementations.
type BackendOptions struct {
	Logger        *log.Logger
	MaxObjectSize int64
	CounterFile   string
}

type BackendOption func(*BackendOptions) error

// NewBackendOptions applies the options on top of the defaults.
func NewBackendOptions(opts ...BackendOption) (*BackendOptions, error) {
	options := &BackendOptions{
		Logger:      log.NewDiscardLogger(),
		CounterFile: "tbf.dat",
	}

	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	return options, nil
}

// WithLogger sets the logger used by the backend.
func WithLogger(logger *log.Logger) BackendOption {
	return func(opts *BackendOptions) error {
		if logger == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidArgument)
		}
		opts.Logger = logger
		return nil
	}
}

// WithMaxObjectSize rejects file data larger than size bytes.
func WithMaxObjectSize(size int64) BackendOption {
	return func(opts *BackendOptions) error {
		if size < 0 {
			return fmt.Errorf("%w: negative object size %d", ErrInvalidArgument, size)
		}
		opts.MaxObjectSize = size
		return nil
	}
}

// WithCounterFile overrides the name of the persisted ID counter.
func WithCounterFile(name string) BackendOption {
	return func(opts *BackendOptions) error {
		if name == "" {
			return fmt.Errorf("%w: empty counter file name", ErrInvalidArgument)
		}
		opts.CounterFile = name
		return nil
	}
}

// CheckSize returns ErrObjectTooLarge if data exceeds the configured limit.
func (opts *BackendOptions) CheckSize(data []byte) error {
	if opts.MaxObjectSize > 0 && int64(len(data)) > opts.MaxObjectSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrObjectTooLarge, len(data), opts.MaxObjectSize)
	}

	return nil
}
