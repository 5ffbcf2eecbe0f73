// Package sink delivers finished detection records to their consumers.
package sink

import (
	"context"
	"errors"
	"io"
	"os"

	"flockwatch/internal/model"
)

type Sink interface {
	Write(ctx context.Context, det model.Detection) error
	Close() error
}

// Multi writes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Write(ctx context.Context, det model.Detection) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, det); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenOutput opens path for appending, or returns stdout for "" and "-".
// Closing the returned stdout writer is a no-op.
func OpenOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
