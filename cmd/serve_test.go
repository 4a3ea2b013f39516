package main

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/http-fetcher/internal/fetcher"
)

func newTestRouter(t *testing.T, opts fetcher.Options) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newRouter(opts, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv
}

func getFetch(t *testing.T, api *httptest.Server, target string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(api.URL + "/v1/fetch?url=" + url.QueryEscape(target))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func decodeError(t *testing.T, body []byte) fetchErrorBody {
	t.Helper()
	var eb fetchErrorBody
	require.NoError(t, json.Unmarshal(body, &eb))
	return eb
}

func TestServe_Health(t *testing.T) {
	api := newTestRouter(t, testOpts)

	resp, err := http.Get(api.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServe_FetchOK(t *testing.T) {
	upstream := newUpstream(t)
	api := newTestRouter(t, testOpts)

	resp, body := getFetch(t, api, upstream.URL+"/ok")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, "5", resp.Header.Get("Content-Length"))

	_, err := uuid.Parse(resp.Header.Get("X-Fetch-ID"))
	assert.NoError(t, err)
}

func TestServe_FetchNoContent(t *testing.T) {
	upstream := newUpstream(t)
	api := newTestRouter(t, testOpts)

	target := upstream.URL + "/missing"
	resp, body := getFetch(t, api, target)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	eb := decodeError(t, body)
	assert.Equal(t, "no content", eb.Kind)
	assert.Equal(t, target, eb.URL)
	assert.Equal(t, http.StatusNotFound, eb.UpstreamStatus)
	assert.Contains(t, eb.Error, target)
	assert.Equal(t, resp.Header.Get("X-Fetch-ID"), eb.FetchID)
}

func TestServe_FetchBadURL(t *testing.T) {
	api := newTestRouter(t, testOpts)

	for _, target := range []string{"", "example.test/ok", "ftp://example.test/"} {
		resp, body := getFetch(t, api, target)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, target)
		assert.Equal(t, "configuration", decodeError(t, body).Kind)
	}
}

func TestServe_FetchBadSystemProxyFlag(t *testing.T) {
	api := newTestRouter(t, testOpts)

	resp, err := http.Get(api.URL + "/v1/fetch?url=http%3A%2F%2Fexample.test%2F&system_proxy=maybe")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_FetchTimeout(t *testing.T) {
	upstream := newUpstream(t)
	api := newTestRouter(t, fetcher.Options{Timeout: 200 * time.Millisecond})

	resp, body := getFetch(t, api, upstream.URL+"/slow")
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)

	eb := decodeError(t, body)
	assert.Equal(t, "transport", eb.Kind)
	assert.True(t, eb.Timeout)
}

func TestServe_FetchUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	api := newTestRouter(t, testOpts)
	resp, body := getFetch(t, api, "http://"+addr+"/")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "transport", decodeError(t, body).Kind)
}

func TestServe_CORS(t *testing.T) {
	upstream := newUpstream(t)
	api := newTestRouter(t, testOpts)

	req, err := http.NewRequest(http.MethodGet, api.URL+"/v1/fetch?url="+url.QueryEscape(upstream.URL+"/ok"), nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://portal.example.test")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServe_NoCORSWithoutOrigins(t *testing.T) {
	upstream := newUpstream(t)
	api := httptest.NewServer(newRouter(testOpts, nil))
	t.Cleanup(api.Close)

	req, err := http.NewRequest(http.MethodGet, api.URL+"/v1/fetch?url="+url.QueryEscape(upstream.URL+"/ok"), nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://portal.example.test")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestFetchErrorResponse_Unclassified(t *testing.T) {
	status, body := fetchErrorResponse(io.ErrUnexpectedEOF)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal", body.Kind)
}
