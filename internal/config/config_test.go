package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"newspush/internal/digest"
	"newspush/internal/failure"
	"newspush/internal/wechat"
)

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFromEnvOnlyArticleDefaults(t *testing.T) {
	cfg, err := Load("", envMap(map[string]string{
		EnvAppID:        "wx",
		EnvAppSecret:    "secret",
		EnvThumbMediaID: " THUMB ",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Delivery.Mode != ModeArticle {
		t.Fatalf("mode = %q", cfg.Delivery.Mode)
	}
	if len(cfg.Delivery.Recipients) != 1 || cfg.Delivery.Recipients[0] != "THUMB" {
		t.Fatalf("recipients = %v", cfg.Delivery.Recipients)
	}
	if cfg.Source.URL != digest.DefaultSourceURL || cfg.WeChat.BaseURL != wechat.DefaultBaseURL {
		t.Fatalf("urls = %q %q", cfg.Source.URL, cfg.WeChat.BaseURL)
	}
	if cfg.HTTPTimeout() != 30*time.Second {
		t.Fatalf("timeout = %v", cfg.HTTPTimeout())
	}
	if cfg.Delivery.ToAll == nil || !*cfg.Delivery.ToAll {
		t.Fatal("broadcast must default to all subscribers")
	}
	if cfg.Render.ShowCoverPic == nil || *cfg.Render.ShowCoverPic != 1 {
		t.Fatal("show_cover_pic must default to 1")
	}
	if cfg.Scheduled() {
		t.Fatal("no schedule configured")
	}
}

func TestLoadTextRecipientsFromEnv(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want []string
	}{
		{name: "list", env: map[string]string{EnvOpenIDs: "a, b,,c "}, want: []string{"a", "b", "c"}},
		{name: "single", env: map[string]string{EnvOpenID: "solo"}, want: []string{"solo"}},
		{name: "list wins", env: map[string]string{EnvOpenIDs: "a", EnvOpenID: "solo"}, want: []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := map[string]string{EnvAppID: "wx", EnvAppSecret: "s", EnvMode: "TEXT"}
			for k, v := range tt.env {
				env[k] = v
			}
			cfg, err := Load("", envMap(env))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if strings.Join(cfg.Delivery.Recipients, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("recipients = %v, want %v", cfg.Delivery.Recipients, tt.want)
			}
		})
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := writeFile(t, "newspush.yaml", `
wechat:
  app_id: from-file
  app_secret: file-secret
delivery:
  mode: text
  recipients: [o1, o2]
render:
  truncate:
    enabled: true
    max_items: 3
scheduler:
  schedule: "0 8 * * *"
  timezone: Asia/Shanghai
storage:
  driver: file
  path: ./journal
`)
	cfg, err := Load(path, envMap(map[string]string{EnvAppID: "from-env"}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WeChat.AppID != "from-env" || cfg.WeChat.AppSecret != "file-secret" {
		t.Fatalf("wechat = %+v", cfg.WeChat)
	}
	if len(cfg.Delivery.Recipients) != 2 {
		t.Fatalf("recipients = %v", cfg.Delivery.Recipients)
	}
	if !cfg.Render.Truncate.Enabled || cfg.Render.Truncate.MaxItems != 3 || cfg.Render.Truncate.MaxItemRunes != 50 {
		t.Fatalf("truncate = %+v", cfg.Render.Truncate)
	}
	if !cfg.Scheduled() || cfg.Location().String() != "Asia/Shanghai" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "newspush.json", `{"wechat":{"app_id":"a","app_secret":"b","appsecret":"typo"}}`)
	_, err := Load(path, envMap(nil))
	if !failure.Is(err, failure.KindConfig) {
		t.Fatalf("err = %v, want config failure", err)
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	path := writeFile(t, "newspush.json", `{"wechat":{}} {"wechat":{}}`)
	if _, err := Load(path, envMap(nil)); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidate(t *testing.T) {
	base := func() map[string]string {
		return map[string]string{EnvAppID: "wx", EnvAppSecret: "s", EnvThumbMediaID: "T"}
	}
	tests := []struct {
		name    string
		mutate  func(map[string]string)
		wantSub string
	}{
		{name: "missing app id", mutate: func(m map[string]string) { delete(m, EnvAppID) }, wantSub: "wechat.app_id"},
		{name: "missing secret", mutate: func(m map[string]string) { delete(m, EnvAppSecret) }, wantSub: "wechat.app_secret"},
		{name: "article without thumb", mutate: func(m map[string]string) { delete(m, EnvThumbMediaID) }, wantSub: "exactly one"},
		{name: "text without openids", mutate: func(m map[string]string) { m[EnvMode] = "text" }, wantSub: "at least one"},
		{name: "unknown mode", mutate: func(m map[string]string) { m[EnvMode] = "sms" }, wantSub: "unknown mode"},
		{name: "bad timeout", mutate: func(m map[string]string) { m[EnvHTTPTimeout] = "soon" }, wantSub: "http.timeout"},
		{name: "bad schedule", mutate: func(m map[string]string) { m[EnvSchedule] = "whenever" }, wantSub: "scheduler.schedule"},
		{name: "bad timezone", mutate: func(m map[string]string) { m[EnvTimezone] = "Mars/Olympus" }, wantSub: "scheduler.timezone"},
		{name: "guard without storage", mutate: func(m map[string]string) { m[EnvOncePerDay] = "true" }, wantSub: "once_per_day"},
		{name: "bad bool", mutate: func(m map[string]string) { m[EnvStrict] = "maybe" }, wantSub: EnvStrict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := base()
			tt.mutate(env)
			_, err := Load("", envMap(env))
			if !failure.Is(err, failure.KindConfig) {
				t.Fatalf("err = %v, want config failure", err)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("err = %v, want it to mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	_, err := Load("", envMap(map[string]string{EnvMode: "text"}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"wechat.app_id", "wechat.app_secret", "at least one"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("err = %v, missing %q", err, want)
		}
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, "test.env", "NEWSPUSH_TEST_ONLY_KEY=from-dotenv\n")
	t.Setenv("NEWSPUSH_TEST_ONLY_OTHER", "kept")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("NEWSPUSH_TEST_ONLY_KEY") })
	if got := os.Getenv("NEWSPUSH_TEST_ONLY_KEY"); got != "from-dotenv" {
		t.Fatalf("env = %q", got)
	}

	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); !failure.Is(err, failure.KindConfig) {
		t.Fatalf("missing explicit file: err = %v", err)
	}
}

func TestDurationField(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty uses default", raw: "", want: time.Minute},
		{name: "zero uses default", raw: "0s", want: time.Minute},
		{name: "set", raw: " 45s ", want: 45 * time.Second},
		{name: "negative", raw: "-1s", wantErr: true},
		{name: "garbage", raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DurationField("http.timeout", tt.raw, time.Minute)
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "http.timeout") {
					t.Fatalf("err = %v, want one naming http.timeout", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("DurationField(%q) = %v, %v; want %v", tt.raw, got, err, tt.want)
			}
		})
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	cfg, err := Decode("newspush.yml", []byte("\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.WeChat.AppID != "" || cfg.Storage != nil {
		t.Fatalf("empty yaml must decode to an empty config, got %+v", cfg)
	}
}

func TestManagerReloadsValidFileAndIgnoresInvalid(t *testing.T) {
	path := writeFile(t, "newspush.json", `{"wechat":{"app_id":"a","app_secret":"b"},"delivery":{"mode":"text","recipients":["o1"]}}`)
	m := NewManager(path, envMap(nil))
	if m.Path() != path {
		t.Fatalf("Path = %q, want %q", m.Path(), path)
	}
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`{"wechat":{"app_id":"a"`), 0o600); err != nil {
		t.Fatalf("write invalid: %v", err)
	}
	time.Sleep(600 * time.Millisecond)
	if got := m.Get().Delivery.Recipients; len(got) != 1 {
		t.Fatalf("invalid file must be ignored, recipients = %v", got)
	}

	if err := os.WriteFile(path, []byte(`{"wechat":{"app_id":"a","app_secret":"b"},"delivery":{"mode":"text","recipients":["o1","o2"]}}`), 0o600); err != nil {
		t.Fatalf("write valid: %v", err)
	}
	select {
	case cfg := <-ch:
		if len(cfg.Delivery.Recipients) != 2 {
			t.Fatalf("reloaded recipients = %v", cfg.Delivery.Recipients)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}

	cancel()
	<-done
}
