package httpdriver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeti-lnp/lnpresolver/internal/asyncio"
	"github.com/yeti-lnp/lnpresolver/internal/driver"
)

func newTestEngine() (*asyncio.Engine, chan asyncio.Completion) {
	completions := make(chan asyncio.Completion, 1)
	return asyncio.NewEngine(completions), completions
}

func TestThinQDriverConstructorBuildsFromRow(t *testing.T) {
	d, err := newThinQ(driver.CommonConfig{UniqueID: 1, Timeout: 1000},
		driver.ShapeJSONParameters,
		driver.RawRow{"host": "api.thinq.com", "username": "alice", "token": "tok123"})
	require.NoError(t, err)
	td := d.(*ThinQDriver)
	assert.Equal(t, "api.thinq.com", td.host)
	assert.Equal(t, "alice", td.username)
	assert.Equal(t, "tok123", td.token)
}

func TestThinQDriverParseStripsQuotes(t *testing.T) {
	d := &ThinQDriver{base: base{kind: driver.KindThinQ}}
	result, err := d.Parse([]byte(`{"lrn":"\"4155550123\""}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "4155550123", result.LocalRoutingNumber)
}

func TestThinQDriverParseMissingLRNIsError(t *testing.T) {
	d := &ThinQDriver{base: base{kind: driver.KindThinQ}}
	_, err := d.Parse([]byte(`{"lerg":{}}`), nil)
	require.Error(t, err)
}

func TestThinQDriverRequestURL(t *testing.T) {
	d := &ThinQDriver{host: "api.thinq.com"}
	assert.Equal(t, "https://api.thinq.com/lrn/extended/9194841422?format=json", d.requestURL("9194841422"))
}

func TestThinQDriverRequestURLWithPort(t *testing.T) {
	d := &ThinQDriver{host: "api.thinq.com", port: 8443}
	assert.Equal(t, "https://api.thinq.com:8443/lrn/extended/9194841422?format=json", d.requestURL("9194841422"))
}

func TestThinQDriverMissingConfigIsError(t *testing.T) {
	_, err := newThinQ(driver.CommonConfig{}, driver.ShapeJSONParameters, driver.RawRow{})
	require.Error(t, err)
}

func TestThinQDriverStartResolveSubmitsThroughEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lrn":"9198900000"}`))
	}))
	defer srv.Close()

	d := &ThinQDriver{base: base{common: driver.CommonConfig{Timeout: 1000}, kind: driver.KindThinQ}}
	engine, completions := newTestEngine()

	// Bypass requestURL's fixed https scheme to exercise Submit/Completion
	// plumbing against the httptest server.
	engine.Submit(context.Background(), asyncio.HTTPRequest{
		RequestID: 42, Method: "GET", URL: srv.URL, Timeout: time.Second, VerifySSL: true,
	})

	select {
	case c := <-completions:
		require.NoError(t, c.Err)
		result, err := d.Parse(c.Body, nil)
		require.NoError(t, err)
		assert.Equal(t, "9198900000", result.LocalRoutingNumber)
	case <-time.After(2 * time.Second):
		t.Fatal("no completion received")
	}
}
