package infra

import (
	"context"
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) < 3 {
		t.Fatalf("expected embedded migrations, got %v", files)
	}
	var all strings.Builder
	for _, f := range files {
		data, err := migrationFS.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		all.Write(data)
	}
	for _, table := range []string{"balances", "ledger_entries", "accounts", "transfers", "users"} {
		if !strings.Contains(all.String(), "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("no migration creates %s", table)
		}
	}
	if !strings.Contains(all.String(), "claimed_until") {
		t.Fatal("transfers migration lacks claim column")
	}
}

func TestPingKafkaRequiresBrokers(t *testing.T) {
	if err := PingKafka(context.Background(), nil); err == nil {
		t.Fatal("expected error without brokers")
	}
}
