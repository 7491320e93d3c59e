package digest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"newspush/internal/failure"
	"newspush/internal/httpclient"
	logx "newspush/pkg/logx"
)

func newTestFetcher(t *testing.T, h http.HandlerFunc) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewFetcher(httpclient.NewRestyClientFrom(srv.Client(), time.Second), srv.URL+"/v2/60s", logx.Nop())
}

func TestFetchPreservesOrder(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"code":200,"data":{"date":"2026-10-18","news":["first","second","third"]}}`)
	})

	d, err := f.Fetch(context.Background())

	assert.Equal(t, nil, err)
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, []string{"first", "second", "third"}, d.Strings())
	assert.NotEqual(t, time.Time{}, d.FetchedAt)
}

func TestFetchKeepsItemsVerbatim(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"news":["a","","  c  "]}}`)
	})

	d, err := f.Fetch(context.Background())

	assert.Equal(t, nil, err)
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, []string{"a", "", "  c  "}, d.Strings())
}

func TestFetchFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"data":{"news":["x"]}}`},
		{name: "not json", status: http.StatusOK, body: `<html>maintenance</html>`},
		{name: "missing data", status: http.StatusOK, body: `{"code":200}`},
		{name: "missing news", status: http.StatusOK, body: `{"data":{"date":"2026-10-18"}}`},
		{name: "news wrong type", status: http.StatusOK, body: `{"data":{"news":"x"}}`},
		{name: "empty news", status: http.StatusOK, body: `{"data":{"news":[]}}`},
		{name: "blank news", status: http.StatusOK, body: `{"data":{"news":["  ",""]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := f.Fetch(context.Background())

			assert.NotEqual(t, nil, err)
			assert.Equal(t, failure.KindFetch, failure.KindOf(err))
		})
	}
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	f := NewFetcher(httpclient.NewRestyClient(time.Second), url, logx.Nop())
	_, err := f.Fetch(context.Background())

	assert.Equal(t, failure.KindFetch, failure.KindOf(err))
}

func TestNewFetcherDefaults(t *testing.T) {
	f := NewFetcher(nil, " ", logx.Logger{})
	assert.Equal(t, DefaultSourceURL, f.URL())
}
