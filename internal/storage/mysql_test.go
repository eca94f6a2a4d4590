package storage

import (
	"context"
	"strings"
	"testing"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	logx "bwkeeper/pkg/logx"
)

func TestOpenMySQLErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{name: "empty dsn", dsn: "  ", want: "mysql dsn is required"},
		{name: "unreachable", dsn: "keeper:secret@tcp(127.0.0.1:1)/bw?timeout=1s", want: "mysql open"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st, err := Open(Config{Driver: "mysql", DSN: tt.dsn}, logx.Nop())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Open = %v, %v; want error containing %q", st, err, tt.want)
			}
		})
	}
}

// dryRunDB builds statements without a server.
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "keeper:secret@tcp(127.0.0.1:1)/bw?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}
	return db
}

func TestMySQLRecentRunsQuery(t *testing.T) {
	t.Parallel()
	db := dryRunDB(t)
	tests := []struct {
		limit int
		want  string
	}{
		{limit: 0, want: "LIMIT 20"},
		{limit: 7, want: "LIMIT 7"},
		{limit: 10000, want: "LIMIT 500"},
	}
	for _, tt := range tests {
		sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
			var out []RunRecord
			return recentRuns(tx, tt.limit).Find(&out)
		})
		for _, part := range []string{"FROM `run_history`", "ORDER BY id DESC", tt.want} {
			if !strings.Contains(sql, part) {
				t.Fatalf("limit %d: %q missing %q", tt.limit, sql, part)
			}
		}
	}
}

func TestMySQLAppendRunDryRun(t *testing.T) {
	t.Parallel()
	st := &mysqlStore{db: dryRunDB(t), log: logx.Nop()}
	if err := st.AppendRun(context.Background(), RunRecord{ID: 42, RunID: "r1", URL: "http://h/f", StatusCode: 200}); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
	sql := st.db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return tx.Create(&RunRecord{RunID: "r1"})
	})
	if !strings.Contains(sql, "INSERT INTO `run_history`") {
		t.Fatalf("insert sql = %q", sql)
	}
}
