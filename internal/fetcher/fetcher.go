// Package fetcher retrieves the content at a configured URL with a single
// bounded HTTP GET and hands it back as a buffered resource.
package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the contract the gateway host uses to load remote content.
type Fetcher interface {
	// Fetch performs one GET and returns the buffered response body.
	Fetch(ctx context.Context) (*Resource, error)
}

// Resource is the fetched content. Content is already fully buffered in memory.
type Resource struct {
	URL         string
	ContentType string
	Size        int64
	Content     io.ReadCloser
}

// State tracks the lifecycle of a single fetch.
type State int

const (
	StateNotStarted State = iota
	StateInFlight
	StateCompletedOK
	StateCompletedNoContent
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateInFlight:
		return "in-flight"
	case StateCompletedOK:
		return "completed-ok"
	case StateCompletedNoContent:
		return "completed-no-content"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == StateCompletedOK || s == StateCompletedNoContent || s == StateFailed
}
