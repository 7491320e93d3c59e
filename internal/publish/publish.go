// Package publish delivers rendered digests through the platform client.
//
// Article mode uploads one news material and broadcasts it to every
// subscriber. Text mode sends one customer-service message per recipient,
// sequentially, and keeps going when a single recipient fails.
package publish

import (
	"context"
	"errors"
	"fmt"

	"newspush/internal/failure"
	"newspush/internal/render"
	"newspush/internal/wechat"
	logx "newspush/pkg/logx"
)

// ErrNoRecipients is returned by TextPublisher when the list is empty.
var ErrNoRecipients = errors.New("no recipients")

// RecipientResult is the outcome of one text-mode send.
type RecipientResult struct {
	Recipient string
	Err       error
}

// Report summarizes one publish call.
type Report struct {
	// Broadcast is set once a mass send has been accepted.
	Broadcast bool
	MediaID   string
	MsgID     string
	MsgDataID string

	Results []RecipientResult
}

// Delivered counts accepted sends. An accepted broadcast counts as one.
func (r Report) Delivered() int {
	n := 0
	if r.Broadcast {
		n++
	}
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts rejected recipient sends.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Broadcaster is the part of the platform client article mode needs.
type Broadcaster interface {
	UploadNews(ctx context.Context, token wechat.AccessToken, articles []wechat.NewsArticle) (string, error)
	MassSend(ctx context.Context, token wechat.AccessToken, mediaID string, opt wechat.MassSendOptions) (wechat.MassSendResult, error)
}

// TextSender is the part of the platform client text mode needs.
type TextSender interface {
	SendText(ctx context.Context, token wechat.AccessToken, openID, content string) error
}

// ArticlePublisher uploads and broadcasts one article.
type ArticlePublisher struct {
	client Broadcaster
	opt    wechat.MassSendOptions
	log    logx.Logger
}

func NewArticlePublisher(client Broadcaster, opt wechat.MassSendOptions, log logx.Logger) *ArticlePublisher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ArticlePublisher{client: client, opt: opt, log: log}
}

// Publish uploads a as a news material, then mass-sends it. An upload
// failure stops before any send is attempted.
func (p *ArticlePublisher) Publish(ctx context.Context, token wechat.AccessToken, a render.Article) (Report, error) {
	var rep Report
	mediaID, err := p.client.UploadNews(ctx, token, []wechat.NewsArticle{{
		Title:            a.Title,
		Content:          a.Content,
		ContentSourceURL: a.ContentSourceURL,
		ThumbMediaID:     a.ThumbMediaID,
		ShowCoverPic:     a.ShowCoverPic,
		Digest:           a.Digest,
	}})
	if err != nil {
		return rep, err
	}
	rep.MediaID = mediaID
	p.log.Info("news material uploaded", logx.String("media_id", mediaID))

	res, err := p.client.MassSend(ctx, token, mediaID, p.opt)
	if err != nil {
		return rep, err
	}
	rep.Broadcast = true
	rep.MsgID = res.MsgID.String()
	rep.MsgDataID = res.MsgDataID.String()
	p.log.Info("broadcast accepted",
		logx.String("msg_id", rep.MsgID),
		logx.String("msg_data_id", rep.MsgDataID),
		logx.Bool("to_all", p.opt.ToAll),
	)
	return rep, nil
}

// TextPublisher fans a text message out to a recipient list.
type TextPublisher struct {
	client TextSender
	strict bool
	log    logx.Logger
}

// NewTextPublisher builds a TextPublisher. With strict set, any failed
// recipient turns the whole publish into an error.
func NewTextPublisher(client TextSender, strict bool, log logx.Logger) *TextPublisher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TextPublisher{client: client, strict: strict, log: log}
}

// Publish sends text to each recipient in order. Per-recipient failures are
// logged and recorded in the report; they do not stop the loop. The error is
// nil once at least one send was attempted, unless the publisher is strict.
// A cancelled context stops the loop before the next recipient.
func (p *TextPublisher) Publish(ctx context.Context, token wechat.AccessToken, text string, recipients []string) (Report, error) {
	var rep Report
	if len(recipients) == 0 {
		return rep, failure.New(failure.KindSend, "custom send", ErrNoRecipients)
	}

	rep.Results = make([]RecipientResult, 0, len(recipients))
	for _, to := range recipients {
		if err := ctx.Err(); err != nil {
			p.log.Warn("fan-out interrupted", logx.Int("sent", len(rep.Results)), logx.Int("total", len(recipients)))
			return rep, failure.New(failure.KindSend, "custom send", err)
		}
		err := p.client.SendText(ctx, token, to, text)
		rep.Results = append(rep.Results, RecipientResult{Recipient: to, Err: err})
		if err != nil {
			p.log.Warn("text send failed",
				logx.String("recipient", to),
				logx.Int("errcode", failure.CodeOf(err)),
				logx.Err(err),
			)
			continue
		}
		p.log.Debug("text sent", logx.String("recipient", to))
	}

	p.log.Info("fan-out finished", logx.Int("delivered", rep.Delivered()), logx.Int("failed", rep.Failed()))
	if p.strict && rep.Failed() > 0 {
		return rep, failure.New(failure.KindSend, "custom send",
			fmt.Errorf("%d of %d recipients failed", rep.Failed(), len(recipients)))
	}
	return rep, nil
}
