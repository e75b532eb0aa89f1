// Package fetch retrieves resource documents from the build server's REST API.
package fetch

import (
	"context"
	"errors"
	"fmt"
)

// ErrResourceFetch matches every error returned by a failed fetch.
var ErrResourceFetch = errors.New("fetch: resource fetch failed")

// Fetcher returns the JSON representation of the resource at path.
// fields is an optional selector forwarded to the resource API.
type Fetcher interface {
	Fetch(ctx context.Context, path, fields string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, path, fields string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, path, fields string) ([]byte, error) {
	return f(ctx, path, fields)
}

// Error wraps a failed fetch of Path.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrResourceFetch }

// Wrap converts err into an *Error for path. Nil stays nil and errors that
// already match ErrResourceFetch are returned unchanged.
func Wrap(path string, err error) error {
	if err == nil || errors.Is(err, ErrResourceFetch) {
		return err
	}
	return &Error{Path: path, Err: err}
}
