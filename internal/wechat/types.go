package wechat

import (
	"encoding/json"
	"time"
)

// DefaultBaseURL is the Official Account server API root.
const DefaultBaseURL = "https://api.weixin.qq.com"

const (
	pathToken      = "/cgi-bin/token"
	pathUploadNews = "/cgi-bin/media/uploadnews"
	pathMassSend   = "/cgi-bin/message/mass/sendall"
	pathCustomSend = "/cgi-bin/message/custom/send"
)

// Credentials identify the Official Account application.
type Credentials struct {
	AppID     string
	AppSecret string
}

// AccessToken is the short-lived bearer credential (platform lifetime 2h).
type AccessToken struct {
	Value     string
	ExpiresIn time.Duration
}

// apiStatus is the platform error envelope embedded in every response.
// ErrCode is a pointer: a response without errcode is not a success for
// endpoints that report success through errcode == 0.
type apiStatus struct {
	ErrCode *int   `json:"errcode,omitempty"`
	ErrMsg  string `json:"errmsg,omitempty"`
}

type tokenResponse struct {
	apiStatus
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// NewsArticle is one entry of an uploaded news material.
type NewsArticle struct {
	Title            string `json:"title"`
	Content          string `json:"content"`
	ContentSourceURL string `json:"content_source_url"`
	ThumbMediaID     string `json:"thumb_media_id"`
	ShowCoverPic     int    `json:"show_cover_pic"`
	Digest           string `json:"digest"`
	Author           string `json:"author,omitempty"`
}

type uploadNewsRequest struct {
	Articles []NewsArticle `json:"articles"`
}

type uploadNewsResponse struct {
	apiStatus
	Type      string `json:"type"`
	MediaID   string `json:"media_id"`
	CreatedAt int64  `json:"created_at"`
}

// MassSendOptions tunes the broadcast call.
type MassSendOptions struct {
	// ToAll sends to every subscriber; when false TagID selects the audience.
	ToAll bool
	TagID int
	// IgnoreReprint continues the send when the article is judged a reprint.
	IgnoreReprint bool
}

type massFilter struct {
	IsToAll bool `json:"is_to_all"`
	TagID   *int `json:"tag_id,omitempty"`
}

type mediaRef struct {
	MediaID string `json:"media_id"`
}

type massSendRequest struct {
	Filter            massFilter `json:"filter"`
	MPNews            mediaRef   `json:"mpnews"`
	MsgType           string     `json:"msgtype"`
	SendIgnoreReprint int        `json:"send_ignore_reprint"`
}

// MassSendResult carries the ids the platform assigns to a broadcast.
type MassSendResult struct {
	MsgID     json.Number `json:"msg_id"`
	MsgDataID json.Number `json:"msg_data_id"`
}

type massSendResponse struct {
	apiStatus
	MassSendResult
}

type textContent struct {
	Content string `json:"content"`
}

type customSendRequest struct {
	ToUser  string      `json:"touser"`
	MsgType string      `json:"msgtype"`
	Text    textContent `json:"text"`
}
