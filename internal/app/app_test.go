package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"newspush/internal/config"
	"newspush/internal/failure"
	"newspush/internal/pipeline"
)

func lookup(m map[string]string) config.LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

type fakeAPI struct {
	tokenCalls atomic.Int32
	sendCalls  atomic.Int32
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/cgi-bin/token":
		f.tokenCalls.Add(1)
		_, _ = io.WriteString(w, `{"access_token":"TOKEN","expires_in":7200}`)
	case "/cgi-bin/message/custom/send":
		f.sendCalls.Add(1)
		_, _ = io.WriteString(w, `{"errcode":0,"errmsg":"ok"}`)
	default:
		http.NotFound(w, r)
	}
}

func setup(t *testing.T, upstreamStatus int) (*fakeAPI, map[string]string) {
	t.Helper()
	api := &fakeAPI{}
	platform := httptest.NewServer(api)
	t.Cleanup(platform.Close)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(upstreamStatus)
		_, _ = io.WriteString(w, `{"data":{"news":["alpha","beta","gamma"]}}`)
	}))
	t.Cleanup(upstream.Close)

	return api, map[string]string{
		config.EnvAppID:       "wx",
		config.EnvAppSecret:   "secret",
		config.EnvBaseURL:     platform.URL,
		config.EnvSourceURL:   upstream.URL,
		config.EnvMode:        "text",
		config.EnvOpenIDs:     "o1,o2",
		config.EnvHTTPTimeout: "2s",
		config.EnvLogLevel:    "error",
	}
}

func TestRunOnceTextSuccessExitsZero(t *testing.T) {
	api, env := setup(t, http.StatusOK)
	a, err := New(Options{Lookup: lookup(env), Once: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if code := a.Run(context.Background()); code != ExitOK {
		t.Fatalf("exit code = %d, want %d", code, ExitOK)
	}
	if api.sendCalls.Load() != 2 {
		t.Fatalf("sends = %d, want 2", api.sendCalls.Load())
	}
}

func TestRunOnceUpstreamFailureExitsOne(t *testing.T) {
	api, env := setup(t, http.StatusInternalServerError)
	a, err := New(Options{Lookup: lookup(env), Once: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	out, err := a.RunOnce(context.Background())

	if !failure.Is(err, failure.KindFetch) {
		t.Fatalf("err = %v, want fetch failure", err)
	}
	if ExitCode(out, err) != ExitFailure {
		t.Fatalf("exit code = %d", ExitCode(out, err))
	}
	if api.tokenCalls.Load() != 0 {
		t.Fatalf("token endpoint called %d times", api.tokenCalls.Load())
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, env := setup(t, http.StatusOK)
	delete(env, config.EnvOpenIDs)

	_, err := New(Options{Lookup: lookup(env)})

	if !failure.Is(err, failure.KindConfig) {
		t.Fatalf("err = %v, want config failure", err)
	}
}

func TestOncePerDayWithJournal(t *testing.T) {
	api, env := setup(t, http.StatusOK)
	dir := t.TempDir()
	path := filepath.Join(dir, "newspush.json")
	body := `{"delivery":{"once_per_day":true},"storage":{"driver":"sqlite","path":"` +
		filepath.ToSlash(filepath.Join(dir, "journal.db")) + `"}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	for i, wantSkipped := range []bool{false, true} {
		a, err := New(Options{ConfigPath: path, Lookup: lookup(env), Once: true})
		if err != nil {
			t.Fatalf("New #%d: %v", i, err)
		}
		out, err := a.RunOnce(context.Background())
		a.Close()
		if err != nil {
			t.Fatalf("run #%d: %v", i, err)
		}
		if out.Skipped != wantSkipped {
			t.Fatalf("run #%d skipped = %v, want %v", i, out.Skipped, wantSkipped)
		}
	}
	if api.sendCalls.Load() != 2 {
		t.Fatalf("sends = %d, want 2 (one run, two recipients)", api.sendCalls.Load())
	}
}

func TestMapStorageConfig(t *testing.T) {
	tests := []struct {
		name    string
		st      *config.StorageConfig
		enabled bool
		wantErr bool
	}{
		{name: "omitted"},
		{name: "none", st: &config.StorageConfig{Driver: "none"}},
		{name: "file", st: &config.StorageConfig{Driver: "file", Path: "x"}, enabled: true},
		{name: "bolt", st: &config.StorageConfig{Driver: "BOLT", Path: "x", BusyTimeout: "2s"}, enabled: true},
		{name: "bad timeout", st: &config.StorageConfig{Driver: "sqlite", Path: "x", BusyTimeout: "later"}, wantErr: true},
		{name: "unknown", st: &config.StorageConfig{Driver: "mongo", Path: "x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, enabled, err := mapStorageConfig(&config.Config{Storage: tt.st})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if enabled != tt.enabled {
				t.Fatalf("enabled = %v, want %v", enabled, tt.enabled)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(pipeline.Outcome{State: pipeline.Done}, nil) != ExitOK {
		t.Fatal("done must exit 0")
	}
	if ExitCode(pipeline.Outcome{State: pipeline.Failed}, failure.Newf(failure.KindAuth, "token", "x")) != ExitFailure {
		t.Fatal("failure must exit 1")
	}
}
