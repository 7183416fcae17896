package scraper

import (
	"errors"
	"fmt"
)

// ErrSessionNotRunnable is returned when a session cannot be claimed because
// it is already running or terminal.
var ErrSessionNotRunnable = errors.New("session is not in a runnable state")

// FetchError wraps a source-level failure: unreachable site, auth rejection,
// or the adapter timing out. One FetchError fails one source, never the
// session on its own.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ExtractionError marks one posting that could not be extracted from the
// source payload. Extraction errors skip the posting and increment the error
// counter; they never abort the fetch.
type ExtractionError struct {
	Source string
	Detail string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s (%s): %v", e.Source, e.Detail, e.Err)
	}
	return fmt.Sprintf("extract %s: %s", e.Source, e.Detail)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
