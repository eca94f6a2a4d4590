package storage

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"

	logx "bwkeeper/pkg/logx"
)

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
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return OpenFile(afero.NewOsFs(), cfg.Path, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "mysql":
		return openMySQL(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
