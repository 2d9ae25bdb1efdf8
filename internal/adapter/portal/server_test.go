//go:build unit

package portal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang-wifiprov/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const formContentType = "application/x-www-form-urlencoded"

func newRunningServer(t *testing.T) (*Server, *Session, string) {
	t.Helper()
	srv := NewServer("127.0.0.1:0", 1024, nil)
	session := NewSession()
	require.NoError(t, srv.Start(session))
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return srv, session, "http://" + srv.Addr().String()
}

func postForm(t *testing.T, base, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(base+"/configure", formContentType, strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_Form(t *testing.T) {
	_, _, base := newRunningServer(t)

	resp, err := http.Get(base + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	page := string(body)
	for _, field := range []string{`name="ssid"`, `name="password"`, `name="openai_key"`, `action="/configure"`} {
		assert.Contains(t, page, field)
	}
	assert.NotContains(t, page, "http://", "page must not load external resources")
	assert.NotContains(t, page, "https://", "page must not load external resources")
}

func TestServer_Favicon(t *testing.T) {
	_, _, base := newRunningServer(t)

	resp, err := http.Get(base + "/favicon.ico")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/x-icon", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestServer_SubmissionRoundTrip(t *testing.T) {
	_, session, base := newRunningServer(t)

	resp := postForm(t, base, "ssid=MyNet&password=Secr3t&openai_key=sk-abc")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	record, err := session.Wait(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, types.CredentialRecord{SSID: "MyNet", Password: "Secr3t", APIKey: "sk-abc"}, record)
}

func TestServer_URLDecoding(t *testing.T) {
	_, session, base := newRunningServer(t)

	form := url.Values{}
	form.Set("ssid", "My Home & Co")
	form.Set("password", "p@ss=word+1")
	form.Set("openai_key", "")
	resp := postForm(t, base, form.Encode())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	record, err := session.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "My Home & Co", record.SSID)
	assert.Equal(t, "p@ss=word+1", record.Password)
	assert.Empty(t, record.APIKey)
}

func TestServer_BadRequests(t *testing.T) {
	_, session, base := newRunningServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"MissingPassword", "ssid=X&openai_key=k"},
		{"MissingSSID", "password=p&openai_key=k"},
		{"MissingKey", "ssid=X&password=p"},
		{"EmptySSID", "ssid=&password=p&openai_key=k"},
		{"Empty", ""},
		{"Unparseable", "ssid=%zz&password=p&openai_key=k"},
		{"Oversized", "ssid=X&password=p&openai_key=" + strings.Repeat("k", 1100)},
		{"SSIDTooLong", "ssid=" + strings.Repeat("n", 128) + "&password=p&openai_key="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postForm(t, base, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	_, err := session.Wait(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, types.ErrProvisioningTimeout, "rejected requests must not reach the session")

	t.Run("StillServing", func(t *testing.T) {
		resp := postForm(t, base, "ssid=X&password=p&openai_key=")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestServer_SecondSubmissionConflicts(t *testing.T) {
	_, session, base := newRunningServer(t)

	first := postForm(t, base, "ssid=First&password=p1&openai_key=")
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := postForm(t, base, "ssid=Second&password=p2&openai_key=")
	assert.Equal(t, http.StatusConflict, second.StatusCode)

	record, err := session.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "First", record.SSID)
}

func TestServer_Lifecycle(t *testing.T) {
	srv := NewServer("127.0.0.1:0", 1024, nil)
	assert.Nil(t, srv.Addr())
	assert.NoError(t, srv.Stop(context.Background()), "stopping a stopped server is a no-op")

	require.NoError(t, srv.Start(NewSession()))
	assert.Error(t, srv.Start(NewSession()))
	addr := srv.Addr().String()

	require.NoError(t, srv.Stop(context.Background()))
	assert.Nil(t, srv.Addr())

	_, err := http.Get("http://" + addr + "/")
	assert.Error(t, err, "endpoint must stop serving after Stop")
}

func TestServer_HandlerWithoutSession(t *testing.T) {
	srv := NewServer("127.0.0.1:0", 1024, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/configure", strings.NewReader("ssid=X&password=p&openai_key="))
	req.Header.Set("Content-Type", formContentType)
	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestParseSubmission(t *testing.T) {
	record, err := ParseSubmission([]byte("ssid=Cafe+Wifi&password=&openai_key=sk%2D1"))
	require.NoError(t, err)
	assert.Equal(t, types.CredentialRecord{SSID: "Cafe Wifi", APIKey: "sk-1"}, record)

	_, err = ParseSubmission([]byte("ssid=X"))
	assert.True(t, errors.Is(err, types.ErrBadRequest))
}
