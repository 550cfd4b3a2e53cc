package storage

import "errors"

// ErrNotFound marks a missing entity: an unknown annotation, relationship, or
// extract ID, or a (document, extract) pair the last aggregate rebuild did not
// cover. Callers branch on it with errors.Is; the summary path uses it to pick
// the direct-computation fallback.
var ErrNotFound = errors.New("storage: not found")
