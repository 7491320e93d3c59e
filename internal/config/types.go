package config

// Mode values for delivery.mode.
const (
	ModeArticle = "article"
	ModeText    = "text"
)

// Config is the whole process configuration. It is built once at process
// entry (file, then environment overlay, then defaults) and passed down.
type Config struct {
	WeChat    WeChatConfig    `json:"wechat"`
	Source    SourceConfig    `json:"source"`
	HTTP      HTTPConfig      `json:"http"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Render    RenderConfig    `json:"render"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

// WeChatConfig identifies the Official Account.
//
// Defaults (when omitted):
//   - base_url: "https://api.weixin.qq.com"
type WeChatConfig struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"` // never logged
	BaseURL   string `json:"base_url,omitempty"`
}

// SourceConfig points at the upstream digest API.
type SourceConfig struct {
	URL string `json:"url,omitempty"` // default: digest.DefaultSourceURL
}

// HTTPConfig tunes the shared HTTP client.
type HTTPConfig struct {
	// Timeout is a Go duration string applied to every single call. Default "30s".
	Timeout string `json:"timeout,omitempty"`
}

// DeliveryConfig selects the delivery mode and its recipients.
//
// Recipients holds exactly one thumbnail media id in article mode and the
// subscriber openids in text mode.
//
// Example:
//
//	"delivery": { "mode": "text", "recipients": ["oAbc...", "oDef..."] }
type DeliveryConfig struct {
	Mode       string   `json:"mode,omitempty"` // "article" (default) | "text"
	Recipients []string `json:"recipients,omitempty"`

	// Strict turns any failed text-mode recipient into a failed run.
	Strict bool `json:"strict,omitempty"`
	// OncePerDay skips a run when the journal already holds a successful
	// run of the same mode today. Needs storage.
	OncePerDay bool `json:"once_per_day,omitempty"`

	// Article mode broadcast audience. ToAll is a pointer so an explicit
	// false (send to TagID) differs from omitted (send to all).
	ToAll         *bool `json:"to_all,omitempty"`
	TagID         int   `json:"tag_id,omitempty"`
	IgnoreReprint bool  `json:"ignore_reprint,omitempty"`
}

// RenderConfig customizes the rendered payloads.
//
// Defaults (when omitted):
//   - title_prefix: "今日热点 News"
//   - banner: "今日速览"
//   - footer: "自动推送"
//   - digest: "每日热点自动推送，速看！"
//   - show_cover_pic: 1
//   - content_source_url: ""
type RenderConfig struct {
	TitlePrefix      string         `json:"title_prefix,omitempty"`
	Banner           string         `json:"banner,omitempty"`
	Footer           string         `json:"footer,omitempty"`
	Digest           string         `json:"digest,omitempty"`
	ContentSourceURL string         `json:"content_source_url,omitempty"`
	ShowCoverPic     *int           `json:"show_cover_pic,omitempty"`
	Truncate         TruncateConfig `json:"truncate"`
}

// TruncateConfig bounds the rendered list. Disabled by default.
//
// Defaults (when enabled and zero): max_items 5, max_item_runes 50.
type TruncateConfig struct {
	Enabled      bool `json:"enabled"`
	MaxItems     int  `json:"max_items,omitempty"`
	MaxItemRunes int  `json:"max_item_runes,omitempty"`
}

// SchedulerConfig enables the long-running mode.
//
// An empty schedule means "run once and exit". Accepted forms are those of
// scheduler.ParseSchedule: cron ("0 8 * * *", "@daily"), Go durations
// ("24h") and HH:MM intervals.
type SchedulerConfig struct {
	Schedule string `json:"schedule,omitempty"`
	// Timezone is an IANA name used for cron triggers and the date stamp.
	// Empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards operator alerts (warn and above by default) to a
// Telegram chat. It is a log sink only.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"` // never logged
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the optional run journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/newspush.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}
