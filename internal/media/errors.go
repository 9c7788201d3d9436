// Package media downloads reels and posts and turns them into artifacts the
// transcription providers can read.
package media

import (
	"errors"
	"fmt"
)

// ErrNoContent means the extracted artifact is too small to hold speech or text.
var ErrNoContent = errors.New("media: no usable content")

// FetchError wraps a failed download.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError wraps a failed audio extraction.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract audio from %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
