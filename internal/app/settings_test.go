package app

import "testing"

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		in       Settings
		enabled  bool
		driver   string
		path     string
		wantErr  bool
	}{
		{name: "disabled by default", in: Settings{}},
		{name: "none", in: Settings{StoreDriver: "none"}},
		{name: "file default path", in: Settings{StoreDriver: "file"}, enabled: true, driver: "file", path: "history.jsonl"},
		{name: "sqlite swaps jsonl default", in: Settings{StoreDriver: "SQLite", StorePath: "history.jsonl"}, enabled: true, driver: "sqlite", path: "history.db"},
		{name: "sqlite keeps explicit path", in: Settings{StoreDriver: "sqlite3", StorePath: "/var/lib/bw/runs.db"}, enabled: true, driver: "sqlite", path: "/var/lib/bw/runs.db"},
		{name: "mysql requires dsn", in: Settings{StoreDriver: "mysql"}, wantErr: true},
		{name: "mysql", in: Settings{StoreDriver: "mysql", StoreDSN: "u:p@tcp(db:3306)/bw"}, enabled: true, driver: "mysql"},
		{name: "unknown", in: Settings{StoreDriver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, enabled, err := mapStorageConfig(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if enabled != tt.enabled || got.Driver != tt.driver || got.Path != tt.path {
				t.Fatalf("got %+v enabled=%v", got, enabled)
			}
		})
	}
}
