// Package wechat is a minimal client for the Official Account server API:
// credential exchange, news material upload, mass send and customer-service
// text messages.
//
// Every call is a single attempt. Success is judged by the platform's JSON
// envelope, not only by HTTP status: the platform reports most rejections
// with HTTP 200 and a non-zero errcode.
package wechat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"newspush/internal/failure"
	"newspush/internal/httpclient"
	logx "newspush/pkg/logx"
)

// Client talks to one Official Account.
type Client struct {
	http    httpclient.Client
	baseURL string
	creds   Credentials
	log     logx.Logger
}

// NewClient builds a Client. An empty baseURL falls back to DefaultBaseURL.
func NewClient(hc httpclient.Client, baseURL string, creds Credentials, log logx.Logger) *Client {
	if hc == nil {
		hc = httpclient.NewRestyClient(httpclient.DefaultTimeout)
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{http: hc, baseURL: baseURL, creds: creds, log: log}
}

// AccessToken exchanges the app id/secret for a bearer token.
//
// The response is accepted only when it carries a non-empty access_token;
// an error envelope, even with HTTP 200, is a failure.KindAuth error whose
// detail holds the raw body.
func (c *Client) AccessToken(ctx context.Context) (AccessToken, error) {
	if c.creds.AppID == "" || c.creds.AppSecret == "" {
		return AccessToken{}, failure.Newf(failure.KindAuth, "token", "app id and secret are required")
	}
	resp, err := c.http.Get(ctx, c.baseURL+pathToken, map[string]string{
		"grant_type": "client_credential",
		"appid":      c.creds.AppID,
		"secret":     c.creds.AppSecret,
	})
	if err != nil {
		c.log.Warn("token request failed", logx.Err(err))
		return AccessToken{}, failure.New(failure.KindAuth, "token", err)
	}
	if !resp.OK() {
		c.log.Warn("token endpoint returned non-2xx", logx.Int("status", resp.StatusCode), logx.String("body", resp.Snippet()))
		return AccessToken{}, failure.Newf(failure.KindAuth, "token", "status %d", resp.StatusCode).WithDetail(resp.Snippet())
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		c.log.Warn("token response undecodable", logx.Err(err), logx.String("body", resp.Snippet()))
		return AccessToken{}, failure.New(failure.KindAuth, "token", err).WithDetail(resp.Snippet())
	}
	if tr.AccessToken == "" {
		c.log.Warn("token response without access_token",
			logx.Int("errcode", envelopeCode(tr.apiStatus)),
			logx.String("errmsg", tr.ErrMsg),
			logx.String("body", resp.Snippet()),
		)
		return AccessToken{}, failure.Newf(failure.KindAuth, "token", "response has no access_token: %s", tr.ErrMsg).
			WithCode(envelopeCode(tr.apiStatus)).
			WithDetail(resp.Snippet())
	}

	return AccessToken{Value: tr.AccessToken, ExpiresIn: time.Duration(tr.ExpiresIn) * time.Second}, nil
}

// UploadNews uploads articles as a news material and returns its media id.
// A response without media_id is a failure.KindUpload error.
func (c *Client) UploadNews(ctx context.Context, token AccessToken, articles []NewsArticle) (string, error) {
	if len(articles) == 0 {
		return "", failure.Newf(failure.KindUpload, "upload news", "no articles")
	}
	var ur uploadNewsResponse
	resp, err := c.post(ctx, token, pathUploadNews, uploadNewsRequest{Articles: articles}, &ur)
	if err != nil {
		c.log.Warn("news upload failed", logx.Err(err), logx.String("body", resp.Snippet()))
		return "", failure.New(failure.KindUpload, "upload news", err).WithDetail(resp.Snippet())
	}
	if ur.MediaID == "" {
		c.log.Warn("news upload without media_id",
			logx.Int("errcode", envelopeCode(ur.apiStatus)),
			logx.String("errmsg", ur.ErrMsg),
			logx.String("body", resp.Snippet()),
		)
		return "", failure.Newf(failure.KindUpload, "upload news", "response has no media_id: %s", ur.ErrMsg).
			WithCode(envelopeCode(ur.apiStatus)).
			WithDetail(resp.Snippet())
	}
	return ur.MediaID, nil
}

// MassSend broadcasts an uploaded news material. It succeeds only on errcode 0.
func (c *Client) MassSend(ctx context.Context, token AccessToken, mediaID string, opt MassSendOptions) (MassSendResult, error) {
	req := massSendRequest{
		Filter:  massFilter{IsToAll: opt.ToAll},
		MPNews:  mediaRef{MediaID: mediaID},
		MsgType: "mpnews",
	}
	if !opt.ToAll {
		tag := opt.TagID
		req.Filter.TagID = &tag
	}
	if opt.IgnoreReprint {
		req.SendIgnoreReprint = 1
	}

	var mr massSendResponse
	resp, err := c.post(ctx, token, pathMassSend, req, &mr)
	if err != nil {
		c.log.Warn("mass send failed", logx.Err(err), logx.String("body", resp.Snippet()))
		return MassSendResult{}, failure.New(failure.KindSend, "mass send", err).WithDetail(resp.Snippet())
	}
	if err := checkEnvelope(mr.apiStatus); err != nil {
		c.log.Warn("mass send rejected", logx.Int("errcode", envelopeCode(mr.apiStatus)), logx.String("body", resp.Snippet()))
		return MassSendResult{}, failure.New(failure.KindSend, "mass send", err).
			WithCode(envelopeCode(mr.apiStatus)).
			WithDetail(resp.Snippet())
	}
	return mr.MassSendResult, nil
}

// SendText sends a customer-service text message to one user.
// It succeeds only on errcode 0.
func (c *Client) SendText(ctx context.Context, token AccessToken, openID, content string) error {
	req := customSendRequest{ToUser: openID, MsgType: "text", Text: textContent{Content: content}}

	var st apiStatus
	resp, err := c.post(ctx, token, pathCustomSend, req, &st)
	if err != nil {
		return failure.New(failure.KindSend, "custom send", err).WithDetail(resp.Snippet())
	}
	if err := checkEnvelope(st); err != nil {
		return failure.New(failure.KindSend, "custom send", err).
			WithCode(envelopeCode(st)).
			WithDetail(resp.Snippet())
	}
	return nil
}

// post sends body to path and decodes the JSON answer into out. A transport
// error, non-2xx status or undecodable body is returned as an error; the
// response (possibly nil) is returned for diagnostics.
func (c *Client) post(ctx context.Context, token AccessToken, path string, body, out any) (*httpclient.Response, error) {
	if token.Value == "" {
		return nil, errors.New("empty access token")
	}
	resp, err := c.http.PostJSON(ctx, c.baseURL+path, map[string]string{"access_token": token.Value}, body)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp, fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return resp, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func checkEnvelope(s apiStatus) error {
	if s.ErrCode == nil {
		return errors.New("response has no errcode")
	}
	if *s.ErrCode != 0 {
		return fmt.Errorf("platform rejected: %s", s.ErrMsg)
	}
	return nil
}

func envelopeCode(s apiStatus) int {
	if s.ErrCode == nil {
		return failure.NoCode
	}
	return *s.ErrCode
}
