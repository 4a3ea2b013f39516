package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rotisserie/eris"
)

// Kind classifies a fetch failure.
type Kind int

const (
	// KindConfiguration is a malformed URL or option. It is raised before any I/O.
	KindConfiguration Kind = iota + 1
	// KindNoContent is a response other than 200, or one without a body.
	KindNoContent
	// KindTransport is a DNS, connect, TLS, read or timeout failure.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindNoContent:
		return "no content"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against *Error.
var (
	ErrConfiguration = eris.New("invalid fetch configuration")
	ErrNoContent     = eris.New("no content")
	ErrTransport     = eris.New("transport failure")
)

// Error is the single error type returned by the fetcher.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error

	timeout bool
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindConfiguration:
		return fmt.Sprintf("invalid fetch configuration '%s': %v", e.URL, e.Err)
	case KindNoContent:
		if e.StatusCode != 0 {
			return fmt.Sprintf("unable to fetch http content '%s': no content (status %d)", e.URL, e.StatusCode)
		}
		return fmt.Sprintf("unable to fetch http content '%s': no content", e.URL)
	default:
		return fmt.Sprintf("unable to fetch http content '%s': %v", e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	case ErrNoContent:
		return e.Kind == KindNoContent
	case ErrTransport:
		return e.Kind == KindTransport
	}
	return false
}

// Timeout reports whether the failure was caused by the fetch deadline.
func (e *Error) Timeout() bool {
	return e.timeout
}

func configurationError(rawURL string, err error) *Error {
	return &Error{Kind: KindConfiguration, URL: rawURL, Err: err}
}

func noContentError(rawURL string, status int) *Error {
	return &Error{Kind: KindNoContent, URL: rawURL, StatusCode: status, Err: ErrNoContent}
}

func transportError(rawURL string, err error, msg string) *Error {
	return &Error{
		Kind:    KindTransport,
		URL:     rawURL,
		Err:     eris.Wrap(err, msg),
		timeout: isTimeout(err),
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsConfiguration reports whether err is a configuration failure.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsNoContent reports whether err is a no-content failure.
func IsNoContent(err error) bool { return errors.Is(err, ErrNoContent) }

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }

// IsTimeout reports whether err is a transport failure caused by the deadline.
func IsTimeout(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Timeout()
}
