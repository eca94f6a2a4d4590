package app

import (
	"fmt"
	"strings"

	"bwkeeper/internal/storage"
)

// Settings are the process-level options, filled from flags and environment.
type Settings struct {
	ConfigPath string
	LogPath    string
	LogLevel   string
	ListenAddr string
	Timezone   string

	StoreDriver string
	StorePath   string
	StoreDSN    string

	AuthUser         string
	AuthPasswordHash string
	Pprof            bool
}

func mapStorageConfig(s Settings) (storage.Config, bool, error) {
	driver := strings.ToLower(strings.TrimSpace(s.StoreDriver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(s.StorePath)
	switch driver {
	case "file":
		if path == "" {
			path = "history.jsonl"
		}
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" || strings.HasSuffix(path, ".jsonl") {
			path = "history.db"
		}
		return storage.Config{Driver: "sqlite", Path: path}, true, nil
	case "mysql":
		if strings.TrimSpace(s.StoreDSN) == "" {
			return storage.Config{}, false, fmt.Errorf("STORE_DSN is required when STORE_DRIVER=mysql")
		}
		return storage.Config{Driver: driver, DSN: s.StoreDSN}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown STORE_DRIVER: %s", s.StoreDriver)
	}
}
