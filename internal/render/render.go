// Package render turns a digest into the two delivery payloads: an HTML news
// article for broadcast and a plain-text message for customer-service sends.
//
// Rendering is pure. The same digest, date and Options always produce
// byte-identical output.
package render

import (
	"html"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"newspush/internal/digest"
)

const (
	DefaultTitlePrefix  = "今日热点 News"
	DefaultBanner       = "今日速览"
	DefaultFooter       = "自动推送"
	DefaultDigestText   = "每日热点自动推送，速看！"
	DefaultMaxItems     = 5
	DefaultMaxItemRunes = 50

	dateLayout = "2006-01-02"
)

// Truncate bounds the rendered list. Disabled means every item is rendered
// in full.
type Truncate struct {
	Enabled      bool
	MaxItems     int
	MaxItemRunes int
}

// Options carries the configurable text around the item list.
type Options struct {
	TitlePrefix string
	Banner      string
	Footer      string
	DigestText  string

	ThumbMediaID     string
	ContentSourceURL string
	ShowCoverPic     int

	Truncate Truncate
	// Location is used for the date stamp. Nil means time.Local.
	Location *time.Location
}

// Article is the news material payload for article mode.
type Article struct {
	Title            string
	Content          string
	Digest           string
	ThumbMediaID     string
	ContentSourceURL string
	ShowCoverPic     int
}

// Renderer formats digests with fixed Options.
type Renderer struct {
	opt Options
}

// New returns a Renderer, filling empty text fields and non-positive limits
// with the package defaults.
func New(opt Options) *Renderer {
	if strings.TrimSpace(opt.TitlePrefix) == "" {
		opt.TitlePrefix = DefaultTitlePrefix
	}
	if strings.TrimSpace(opt.Banner) == "" {
		opt.Banner = DefaultBanner
	}
	if strings.TrimSpace(opt.Footer) == "" {
		opt.Footer = DefaultFooter
	}
	if strings.TrimSpace(opt.DigestText) == "" {
		opt.DigestText = DefaultDigestText
	}
	if opt.Truncate.MaxItems <= 0 {
		opt.Truncate.MaxItems = DefaultMaxItems
	}
	if opt.Truncate.MaxItemRunes <= 0 {
		opt.Truncate.MaxItemRunes = DefaultMaxItemRunes
	}
	if opt.Location == nil {
		opt.Location = time.Local
	}
	return &Renderer{opt: opt}
}

// Title returns "{prefix} YYYY-MM-DD" for now in the configured location.
func (r *Renderer) Title(now time.Time) string {
	return r.opt.TitlePrefix + " " + now.In(r.opt.Location).Format(dateLayout)
}

// Article renders the HTML news article.
func (r *Renderer) Article(d digest.Digest, now time.Time) Article {
	var b strings.Builder
	b.WriteString("<h2>")
	b.WriteString(html.EscapeString(r.opt.Banner))
	b.WriteString("</h2><ul>")
	for i, it := range r.items(d) {
		b.WriteString("<li>")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(html.EscapeString(it))
		b.WriteString("</li>")
	}
	b.WriteString("</ul><p>")
	b.WriteString(html.EscapeString(r.opt.Footer))
	b.WriteString("</p>")

	return Article{
		Title:            r.Title(now),
		Content:          b.String(),
		Digest:           r.opt.DigestText,
		ThumbMediaID:     r.opt.ThumbMediaID,
		ContentSourceURL: r.opt.ContentSourceURL,
		ShowCoverPic:     r.opt.ShowCoverPic,
	}
}

// Text renders the plain-text message: a dated header line, one numbered
// line per item, a blank line and the footer.
func (r *Renderer) Text(d digest.Digest, now time.Time) string {
	var b strings.Builder
	b.WriteString(r.Title(now))
	b.WriteByte('\n')
	for i, it := range r.items(d) {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(lineBreaks.Replace(it))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(r.opt.Footer)
	return b.String()
}

// lineBreaks keeps each text item on its numbered line.
var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func (r *Renderer) items(d digest.Digest) []string {
	items := d.Strings()
	tr := r.opt.Truncate
	if !tr.Enabled {
		return items
	}
	if len(items) > tr.MaxItems {
		items = items[:tr.MaxItems]
	}
	for i, s := range items {
		items[i] = cutRunes(s, tr.MaxItemRunes)
	}
	return items
}

func cutRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
