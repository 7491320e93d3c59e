// Package digest retrieves the daily news list from the upstream read API.
package digest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"newspush/internal/failure"
	"newspush/internal/httpclient"
	logx "newspush/pkg/logx"
)

// DefaultSourceURL is the upstream "60s" daily news endpoint.
const DefaultSourceURL = "https://world.20030525.xyz/v2/60s"

// Item is one news line as delivered by the source.
type Item string

// Digest is the ordered news list of one run.
type Digest struct {
	Items     []Item
	FetchedAt time.Time
}

// Len returns the number of items.
func (d Digest) Len() int { return len(d.Items) }

// Strings returns the items as plain strings, in source order.
func (d Digest) Strings() []string {
	out := make([]string, len(d.Items))
	for i, it := range d.Items {
		out[i] = string(it)
	}
	return out
}

// FromStrings builds a Digest from plain strings.
func FromStrings(items []string, at time.Time) Digest {
	d := Digest{Items: make([]Item, len(items)), FetchedAt: at}
	for i, s := range items {
		d.Items[i] = Item(s)
	}
	return d
}

// envelope mirrors {"data":{"news":[...]}}. Pointers distinguish a missing
// field from an empty one.
type envelope struct {
	Data *struct {
		News *[]string `json:"news"`
	} `json:"data"`
}

// Fetcher reads the digest from a fixed URL.
type Fetcher struct {
	client httpclient.Client
	url    string
	log    logx.Logger
	now    func() time.Time
}

// NewFetcher builds a Fetcher. An empty url falls back to DefaultSourceURL.
func NewFetcher(client httpclient.Client, url string, log logx.Logger) *Fetcher {
	if client == nil {
		client = httpclient.NewRestyClient(httpclient.DefaultTimeout)
	}
	if strings.TrimSpace(url) == "" {
		url = DefaultSourceURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{client: client, url: url, log: log, now: time.Now}
}

// URL returns the configured source URL.
func (f *Fetcher) URL() string { return f.url }

// Fetch performs one GET and extracts data.news. Any transport error,
// non-2xx status, undecodable body, missing field or empty list is a
// failure.KindFetch error; so is a list of only blank strings. Items are
// kept verbatim. There is no retry.
func (f *Fetcher) Fetch(ctx context.Context) (Digest, error) {
	resp, err := f.client.Get(ctx, f.url, nil)
	if err != nil {
		f.log.Warn("digest request failed", logx.String("url", httpclient.Redact(f.url)), logx.Err(err))
		return Digest{}, failure.New(failure.KindFetch, "get digest", err)
	}
	if !resp.OK() {
		f.log.Warn("digest source returned non-2xx",
			logx.Int("status", resp.StatusCode),
			logx.String("body", resp.Snippet()),
		)
		return Digest{}, failure.Newf(failure.KindFetch, "get digest", "status %d", resp.StatusCode).WithDetail(resp.Snippet())
	}

	items, err := decodeNews(resp.Body)
	if err != nil {
		f.log.Warn("digest body rejected", logx.Err(err), logx.String("body", resp.Snippet()))
		return Digest{}, failure.New(failure.KindFetch, "decode digest", err).WithDetail(resp.Snippet())
	}

	f.log.Debug("digest fetched", logx.Int("items", len(items)))
	return FromStrings(items, f.now()), nil
}

func decodeNews(body []byte) ([]string, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, errors.New("missing data field")
	}
	if env.Data.News == nil {
		return nil, errors.New("missing data.news field")
	}
	items := *env.Data.News
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			return items, nil
		}
	}
	return nil, errors.New("data.news is empty")
}
