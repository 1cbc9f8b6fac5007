// Package sefserr defines the sentinel errors shared across the ingestion
// and reorganization pipeline, so call sites can errors.Is/errors.As
// instead of matching on message strings.
package sefserr

import "errors"

// ErrTextTooShort marks extracted text shorter than the minimum content
// length. It is internal control flow, not a failure: callers skip the
// file silently and never log it as a warning.
var ErrTextTooShort = errors.New("sefserr: extracted text too short")

// Transient wraps an error the ingestion retry loop considers worth
// retrying (I/O hiccups, a momentarily unavailable embedding backend).
type Transient struct {
	Op  string
	Err error
}

func (t *Transient) Error() string {
	return "sefserr: transient " + t.Op + ": " + t.Err.Error()
}

func (t *Transient) Unwrap() error { return t.Err }
