package pipeline

import (
	"context"
	"time"

	"newspush/internal/digest"
	"newspush/internal/publish"
	"newspush/internal/render"
	"newspush/internal/wechat"
)

const (
	ModeArticle = "article"
	ModeText    = "text"
)

// Message is a formatted payload. Exactly one field is set, matching the
// delivery mode.
type Message struct {
	Article *render.Article
	Text    string
}

// Delivery binds the formatting and publishing stages of one mode.
type Delivery interface {
	Mode() string
	Format(d digest.Digest, now time.Time) Message
	Deliver(ctx context.Context, token wechat.AccessToken, msg Message) (publish.Report, error)
}

// ArticlePublisher is satisfied by *publish.ArticlePublisher.
type ArticlePublisher interface {
	Publish(ctx context.Context, token wechat.AccessToken, a render.Article) (publish.Report, error)
}

// TextPublisher is satisfied by *publish.TextPublisher.
type TextPublisher interface {
	Publish(ctx context.Context, token wechat.AccessToken, text string, recipients []string) (publish.Report, error)
}

// ArticleDelivery renders an HTML article and broadcasts it.
type ArticleDelivery struct {
	Renderer  *render.Renderer
	Publisher ArticlePublisher
}

func (ArticleDelivery) Mode() string { return ModeArticle }

func (a ArticleDelivery) Format(d digest.Digest, now time.Time) Message {
	art := a.Renderer.Article(d, now)
	return Message{Article: &art}
}

func (a ArticleDelivery) Deliver(ctx context.Context, token wechat.AccessToken, msg Message) (publish.Report, error) {
	return a.Publisher.Publish(ctx, token, *msg.Article)
}

// TextDelivery renders a text message and sends it to each recipient.
type TextDelivery struct {
	Renderer   *render.Renderer
	Publisher  TextPublisher
	Recipients []string
}

func (TextDelivery) Mode() string { return ModeText }

func (t TextDelivery) Format(d digest.Digest, now time.Time) Message {
	return Message{Text: t.Renderer.Text(d, now)}
}

func (t TextDelivery) Deliver(ctx context.Context, token wechat.AccessToken, msg Message) (publish.Report, error) {
	return t.Publisher.Publish(ctx, token, msg.Text, t.Recipients)
}
