package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"newspush/internal/digest"
	"newspush/internal/failure"
	"newspush/internal/httpclient"
	"newspush/internal/publish"
	"newspush/internal/render"
	"newspush/internal/storage"
	"newspush/internal/wechat"
	logx "newspush/pkg/logx"
)

// platform is a fake Official Account API that counts calls per path.
type platform struct {
	mu       sync.Mutex
	calls    map[string]int
	texts    []string
	failUser string
}

func (p *platform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[r.URL.Path]++
	switch r.URL.Path {
	case "/cgi-bin/token":
		_, _ = io.WriteString(w, `{"access_token":"TOKEN","expires_in":7200}`)
	case "/cgi-bin/message/custom/send":
		var req struct {
			ToUser string `json:"touser"`
			Text   struct {
				Content string `json:"content"`
			} `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ToUser == p.failUser {
			_, _ = io.WriteString(w, `{"errcode":45015,"errmsg":"response out of time limit"}`)
			return
		}
		p.texts = append(p.texts, req.Text.Content)
		_, _ = io.WriteString(w, `{"errcode":0,"errmsg":"ok"}`)
	case "/cgi-bin/media/uploadnews":
		_, _ = io.WriteString(w, `{"type":"news","media_id":"MEDIA"}`)
	case "/cgi-bin/message/mass/sendall":
		_, _ = io.WriteString(w, `{"errcode":0,"errmsg":"ok","msg_id":1,"msg_data_id":2}`)
	default:
		http.NotFound(w, r)
	}
}

func (p *platform) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[path]
}

func upstream(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

type fixture struct {
	plat     *platform
	source   *digest.Fetcher
	client   *wechat.Client
	renderer *render.Renderer
}

func newFixture(t *testing.T, status int, body string) fixture {
	t.Helper()
	plat := &platform{}
	srv := httptest.NewServer(plat)
	t.Cleanup(srv.Close)
	hc := httpclient.NewRestyClient(2 * time.Second)
	return fixture{
		plat:     plat,
		source:   digest.NewFetcher(hc, upstream(t, status, body), logx.Nop()),
		client:   wechat.NewClient(hc, srv.URL, wechat.Credentials{AppID: "wx", AppSecret: "secret"}, logx.Nop()),
		renderer: render.New(render.Options{Location: time.UTC, ThumbMediaID: "THUMB", ShowCoverPic: 1}),
	}
}

func (f fixture) textDelivery(recipients ...string) TextDelivery {
	return TextDelivery{
		Renderer:   f.renderer,
		Publisher:  publish.NewTextPublisher(f.client, false, logx.Nop()),
		Recipients: recipients,
	}
}

func TestUpstreamFailureStopsBeforeAuth(t *testing.T) {
	f := newFixture(t, http.StatusInternalServerError, `oops`)
	var seen []State
	r := New(Deps{
		Source:   f.source,
		Tokens:   f.client,
		Delivery: f.textDelivery("A"),
		Observer: ObserverFunc(func(_ string, _, to State) { seen = append(seen, to) }),
	})

	out, err := r.Run(context.Background())

	if !failure.Is(err, failure.KindFetch) {
		t.Fatalf("err = %v, want fetch failure", err)
	}
	if out.State != Failed || out.FailedAt != Fetching {
		t.Fatalf("state = %v failedAt = %v", out.State, out.FailedAt)
	}
	if n := f.plat.count("/cgi-bin/token"); n != 0 {
		t.Fatalf("token endpoint called %d times", n)
	}
	if len(seen) != 2 || seen[0] != Fetching || seen[1] != Failed {
		t.Fatalf("transitions = %v", seen)
	}
}

func TestTextRunEndToEnd(t *testing.T) {
	f := newFixture(t, http.StatusOK, `{"data":{"news":["alpha","beta","gamma"]}}`)
	f.plat.failUser = "A"
	now := time.Date(2026, 10, 18, 7, 30, 0, 0, time.UTC)
	var seen []State
	r := New(Deps{
		Source:   f.source,
		Tokens:   f.client,
		Delivery: f.textDelivery("A", "B"),
		Observer: ObserverFunc(func(_ string, _, to State) { seen = append(seen, to) }),
		Now:      func() time.Time { return now },
	})

	out, err := r.Run(context.Background())

	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []State{Fetching, Authenticating, Formatting, Publishing, Done}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}
	if out.Items != 3 || out.Report.Delivered() != 1 || out.Report.Failed() != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if n := f.plat.count("/cgi-bin/message/custom/send"); n != 2 {
		t.Fatalf("custom sends = %d, want 2", n)
	}
	if len(f.plat.texts) != 1 {
		t.Fatalf("delivered texts = %d", len(f.plat.texts))
	}
	wantText := "今日热点 News 2026-10-18\n1. alpha\n2. beta\n3. gamma\n\n自动推送"
	if f.plat.texts[0] != wantText {
		t.Fatalf("text = %q, want %q", f.plat.texts[0], wantText)
	}
	if out.RunID == "" {
		t.Fatal("missing run id")
	}
}

func TestTextRunNoRecipients(t *testing.T) {
	f := newFixture(t, http.StatusOK, `{"data":{"news":["alpha"]}}`)
	r := New(Deps{Source: f.source, Tokens: f.client, Delivery: f.textDelivery()})

	out, err := r.Run(context.Background())

	if !failure.Is(err, failure.KindSend) || out.FailedAt != Publishing {
		t.Fatalf("err = %v failedAt = %v", err, out.FailedAt)
	}
	if n := f.plat.count("/cgi-bin/message/custom/send"); n != 0 {
		t.Fatalf("custom sends = %d, want 0", n)
	}
}

func TestArticleRun(t *testing.T) {
	f := newFixture(t, http.StatusOK, `{"data":{"news":["alpha","beta"]}}`)
	r := New(Deps{
		Source: f.source,
		Tokens: f.client,
		Delivery: ArticleDelivery{
			Renderer:  f.renderer,
			Publisher: publish.NewArticlePublisher(f.client, wechat.MassSendOptions{ToAll: true}, logx.Nop()),
		},
	})

	out, err := r.Run(context.Background())

	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Mode != ModeArticle || !out.Report.Broadcast || out.Report.MediaID != "MEDIA" {
		t.Fatalf("outcome = %+v", out)
	}
	if f.plat.count("/cgi-bin/media/uploadnews") != 1 || f.plat.count("/cgi-bin/message/mass/sendall") != 1 {
		t.Fatalf("calls = %v", f.plat.calls)
	}
}

func TestOncePerDaySkipsSecondRun(t *testing.T) {
	f := newFixture(t, http.StatusOK, `{"data":{"news":["alpha"]}}`)
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "journal.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	now := time.Date(2026, 10, 18, 7, 0, 0, 0, time.UTC)
	r := New(Deps{
		Source:     f.source,
		Tokens:     f.client,
		Delivery:   f.textDelivery("B"),
		Journal:    st,
		OncePerDay: true,
		Location:   time.UTC,
		Now:        func() time.Time { return now },
	})

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	now = now.Add(3 * time.Hour)
	out, err := r.Run(context.Background())
	if err != nil || !out.Skipped {
		t.Fatalf("second run: skipped=%v err=%v", out.Skipped, err)
	}
	if n := f.plat.count("/cgi-bin/message/custom/send"); n != 1 {
		t.Fatalf("custom sends = %d, want 1", n)
	}

	now = now.Add(24 * time.Hour)
	out, err = r.Run(context.Background())
	if err != nil || out.Skipped {
		t.Fatalf("next day run: skipped=%v err=%v", out.Skipped, err)
	}
}

func TestStateStrings(t *testing.T) {
	names := []string{}
	for s := Idle; s <= Failed; s++ {
		names = append(names, s.String())
	}
	got := strings.Join(names, ",")
	if got != "idle,fetching,authenticating,formatting,publishing,done,failed" {
		t.Fatalf("states = %s", got)
	}
	if !Done.Terminal() || !Failed.Terminal() || Publishing.Terminal() {
		t.Fatal("unexpected Terminal()")
	}
}
