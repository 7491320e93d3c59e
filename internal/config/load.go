package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"newspush/internal/digest"
	"newspush/internal/failure"
	"newspush/internal/render"
	"newspush/internal/scheduler"
	"newspush/internal/wechat"
)

const (
	DefaultHTTPTimeout = 30 * time.Second
	DefaultLogLevel    = "info"
	DefaultEnvFile     = ".env"
)

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Environment variables understood by ApplyEnv.
const (
	EnvAppID        = "WECHAT_APP_ID"
	EnvAppSecret    = "WECHAT_APP_SECRET"
	EnvBaseURL      = "WECHAT_BASE_URL"
	EnvThumbMediaID = "WECHAT_THUMB_MEDIA_ID"
	EnvOpenIDs      = "WECHAT_OPENIDS"
	EnvOpenID       = "WECHAT_OPENID"
	EnvMode         = "NEWSPUSH_MODE"
	EnvSourceURL    = "NEWSPUSH_SOURCE_URL"
	EnvSchedule     = "NEWSPUSH_SCHEDULE"
	EnvTimezone     = "NEWSPUSH_TIMEZONE"
	EnvHTTPTimeout  = "NEWSPUSH_HTTP_TIMEOUT"
	EnvLogLevel     = "NEWSPUSH_LOG_LEVEL"
	EnvTruncate     = "NEWSPUSH_TRUNCATE"
	EnvStrict       = "NEWSPUSH_STRICT"
	EnvOncePerDay   = "NEWSPUSH_ONCE_PER_DAY"
)

// LoadEnvFile loads a dotenv file into the process environment without
// overriding variables that are already set. An empty path tries
// DefaultEnvFile and ignores its absence.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		if _, err := os.Stat(DefaultEnvFile); err != nil {
			return nil
		}
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		return failure.New(failure.KindConfig, "load env file", err)
	}
	return nil
}

// Load builds a validated Config: the optional file at path, then the
// environment overlay, then defaults. Every problem is a failure.KindConfig
// error.
func Load(path string, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, failure.New(failure.KindConfig, "read config", err)
		}
		cfg, err = Decode(path, b)
		if err != nil {
			return nil, failure.New(failure.KindConfig, "decode config", err)
		}
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, failure.New(failure.KindConfig, "environment", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, failure.New(failure.KindConfig, "validate config", err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg. Recipients come from
// WECHAT_THUMB_MEDIA_ID in article mode and from WECHAT_OPENIDS (comma
// separated) or WECHAT_OPENID in text mode; either replaces the file list.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid boolean %q", key, v))
			return
		}
		*dst = b
	}

	str(EnvAppID, &cfg.WeChat.AppID)
	str(EnvAppSecret, &cfg.WeChat.AppSecret)
	str(EnvBaseURL, &cfg.WeChat.BaseURL)
	str(EnvMode, &cfg.Delivery.Mode)
	str(EnvSourceURL, &cfg.Source.URL)
	str(EnvSchedule, &cfg.Scheduler.Schedule)
	str(EnvTimezone, &cfg.Scheduler.Timezone)
	str(EnvHTTPTimeout, &cfg.HTTP.Timeout)
	str(EnvLogLevel, &cfg.Logging.Level)
	boolean(EnvTruncate, &cfg.Render.Truncate.Enabled)
	boolean(EnvStrict, &cfg.Delivery.Strict)
	boolean(EnvOncePerDay, &cfg.Delivery.OncePerDay)

	switch normalizeMode(cfg.Delivery.Mode) {
	case ModeArticle, "":
		if v, ok := lookup(EnvThumbMediaID); ok && strings.TrimSpace(v) != "" {
			cfg.Delivery.Recipients = []string{strings.TrimSpace(v)}
		}
	case ModeText:
		if v, ok := lookup(EnvOpenIDs); ok && strings.TrimSpace(v) != "" {
			cfg.Delivery.Recipients = splitList(v)
		} else if v, ok := lookup(EnvOpenID); ok && strings.TrimSpace(v) != "" {
			cfg.Delivery.Recipients = []string{strings.TrimSpace(v)}
		}
	}
	return errors.Join(errs...)
}

// ApplyDefaults fills omitted fields. It never overrides a set value.
func ApplyDefaults(cfg *Config) {
	cfg.Delivery.Mode = normalizeMode(cfg.Delivery.Mode)
	if cfg.Delivery.Mode == "" {
		cfg.Delivery.Mode = ModeArticle
	}
	cfg.Delivery.Recipients = splitList(strings.Join(cfg.Delivery.Recipients, ","))
	if cfg.Delivery.ToAll == nil {
		all := true
		cfg.Delivery.ToAll = &all
	}
	if strings.TrimSpace(cfg.Source.URL) == "" {
		cfg.Source.URL = digest.DefaultSourceURL
	}
	if strings.TrimSpace(cfg.WeChat.BaseURL) == "" {
		cfg.WeChat.BaseURL = wechat.DefaultBaseURL
	}
	if strings.TrimSpace(cfg.HTTP.Timeout) == "" {
		cfg.HTTP.Timeout = DefaultHTTPTimeout.String()
	}

	r := &cfg.Render
	if strings.TrimSpace(r.TitlePrefix) == "" {
		r.TitlePrefix = render.DefaultTitlePrefix
	}
	if strings.TrimSpace(r.Banner) == "" {
		r.Banner = render.DefaultBanner
	}
	if strings.TrimSpace(r.Footer) == "" {
		r.Footer = render.DefaultFooter
	}
	if strings.TrimSpace(r.Digest) == "" {
		r.Digest = render.DefaultDigestText
	}
	if r.ShowCoverPic == nil {
		one := 1
		r.ShowCoverPic = &one
	}
	if r.Truncate.MaxItems <= 0 {
		r.Truncate.MaxItems = render.DefaultMaxItems
	}
	if r.Truncate.MaxItemRunes <= 0 {
		r.Truncate.MaxItemRunes = render.DefaultMaxItemRunes
	}

	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
}

// Validate reports every problem in cfg at once. It expects defaults to
// have been applied.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.WeChat.AppID) == "" {
		add("wechat.app_id is required (or %s)", EnvAppID)
	}
	if strings.TrimSpace(cfg.WeChat.AppSecret) == "" {
		add("wechat.app_secret is required (or %s)", EnvAppSecret)
	}

	switch cfg.Delivery.Mode {
	case ModeArticle:
		if len(cfg.Delivery.Recipients) != 1 {
			add("delivery.recipients: article mode needs exactly one thumb media id (or %s), got %d",
				EnvThumbMediaID, len(cfg.Delivery.Recipients))
		}
	case ModeText:
		if len(cfg.Delivery.Recipients) == 0 {
			add("delivery.recipients: text mode needs at least one openid (or %s)", EnvOpenIDs)
		}
	default:
		add("delivery.mode: unknown mode %q (use %q or %q)", cfg.Delivery.Mode, ModeArticle, ModeText)
	}

	if _, err := DurationField("http.timeout", cfg.HTTP.Timeout, DefaultHTTPTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Render.ShowCoverPic != nil && *cfg.Render.ShowCoverPic != 0 && *cfg.Render.ShowCoverPic != 1 {
		add("render.show_cover_pic: must be 0 or 1")
	}
	if _, err := loadLocation(cfg.Scheduler.Timezone); err != nil {
		add("scheduler.timezone: %v", err)
	}
	if s := strings.TrimSpace(cfg.Scheduler.Schedule); s != "" {
		if _, err := scheduler.ParseSchedule(s); err != nil {
			add("scheduler.schedule: %v", err)
		}
	}

	if st := cfg.Storage; st != nil && storageEnabled(st) {
		if strings.TrimSpace(st.Path) == "" {
			add("storage.path is required for driver %q", st.Driver)
		}
		if _, err := DurationField("storage.busy_timeout", st.BusyTimeout, 0); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Delivery.OncePerDay && (cfg.Storage == nil || !storageEnabled(cfg.Storage)) {
		add("delivery.once_per_day requires storage")
	}

	if tg := cfg.Logging.Telegram; tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" || tg.ChatID == 0 {
			add("logging.telegram: token and chat_id are required when enabled")
		}
	}
	return errors.Join(errs...)
}

// HTTPTimeout returns the per-call timeout. Valid after Load.
func (c *Config) HTTPTimeout() time.Duration {
	d, err := DurationField("http.timeout", c.HTTP.Timeout, DefaultHTTPTimeout)
	if err != nil {
		return DefaultHTTPTimeout
	}
	return d
}

// Location returns the scheduler timezone, time.Local when unset.
func (c *Config) Location() *time.Location {
	loc, err := loadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Scheduled reports whether a schedule is configured.
func (c *Config) Scheduled() bool {
	return strings.TrimSpace(c.Scheduler.Schedule) != ""
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

func storageEnabled(st *StorageConfig) bool {
	d := strings.ToLower(strings.TrimSpace(st.Driver))
	return d != "" && d != "none"
}

func normalizeMode(m string) string {
	return strings.ToLower(strings.TrimSpace(m))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
