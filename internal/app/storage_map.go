package app

import (
	"fmt"
	"strings"
	"time"

	"newspush/internal/config"
	"newspush/internal/storage"
)

const defaultBusyTimeout = time.Second

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3", "bolt", "bbolt":
		busy, err := config.DurationField("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLogConfig(cfg *config.Config) logConfig {
	l := cfg.Logging
	return logConfig{
		Level:   l.Level,
		Console: l.Console,
		File:    logFileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert: logAlertConfig{
			Enabled:    l.Telegram.Enabled,
			Token:      l.Telegram.Token,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}
