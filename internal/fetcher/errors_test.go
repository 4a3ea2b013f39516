package fetcher

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	cfgErr := configurationError("nope", eris.New("url is required"))
	nc := noContentError("http://example.test/missing", 404)
	tr := transportError("http://example.test/", eris.New("dial tcp: connection refused"), "http get")

	assert.True(t, errors.Is(cfgErr, ErrConfiguration))
	assert.False(t, errors.Is(cfgErr, ErrNoContent))
	assert.True(t, errors.Is(nc, ErrNoContent))
	assert.False(t, errors.Is(nc, ErrTransport))
	assert.True(t, errors.Is(tr, ErrTransport))
	assert.False(t, errors.Is(tr, ErrConfiguration))

	assert.Equal(t, "configuration", cfgErr.Kind.String())
	assert.Equal(t, "no content", nc.Kind.String())
	assert.Equal(t, "transport", tr.Kind.String())
}

func TestErrorMessages(t *testing.T) {
	nc := noContentError("http://example.test/missing", 404)
	assert.Equal(t, "unable to fetch http content 'http://example.test/missing': no content (status 404)", nc.Error())

	nc = noContentError("http://example.test/missing", 0)
	assert.Equal(t, "unable to fetch http content 'http://example.test/missing': no content", nc.Error())

	tr := transportError("http://example.test/", eris.New("connection refused"), "http get")
	assert.Contains(t, tr.Error(), "unable to fetch http content 'http://example.test/'")
	assert.Contains(t, tr.Error(), "connection refused")

	cfgErr := configurationError("example.test", eris.New("url is not absolute"))
	assert.Contains(t, cfgErr.Error(), "'example.test'")
	assert.Contains(t, cfgErr.Error(), "url is not absolute")
}

func TestErrorTimeout(t *testing.T) {
	tr := transportError("http://example.test/", context.DeadlineExceeded, "http get")
	assert.True(t, tr.Timeout())
	assert.True(t, IsTimeout(tr))

	tr = transportError("http://example.test/", context.Canceled, "http get")
	assert.False(t, tr.Timeout())
	assert.False(t, IsTimeout(nil))
}

func TestErrorWrappedByCaller(t *testing.T) {
	err := fmt.Errorf("load api definition: %w", noContentError("http://example.test/", 500))
	assert.True(t, IsNoContent(err))

	var fe *Error
	assert.True(t, errors.As(err, &fe))
	assert.Equal(t, 500, fe.StatusCode)
}
