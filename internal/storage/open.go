package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "newspush/pkg/logx"
)

// Store is the run journal API used by the pipeline.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	// LastSuccess returns the finish time of the newest successful,
	// non-skipped run of mode.
	LastSuccess(ctx context.Context, mode string) (at time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "bolt", "bbolt":
		return openBolt(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// countsAsSuccess reports whether r may answer LastSuccess.
func countsAsSuccess(r RunRecord) bool {
	return r.Success && !r.Skipped && !r.Finished.IsZero()
}
