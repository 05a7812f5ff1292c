package app

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"ARC_HTTP_ADDR", "ARC_ROOMS", "ARC_TOKENS", "ARC_MEDIA_MAX_BYTES", "ARC_DB_SCHEMA"} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("addr=%q", cfg.HTTPAddr)
	}
	if cfg.DBSchema != "arc" {
		t.Fatalf("schema=%q", cfg.DBSchema)
	}
	if cfg.MediaMaxBytes != 8<<20 {
		t.Fatalf("media max=%d", cfg.MediaMaxBytes)
	}
	if len(cfg.Rooms) != 0 || len(cfg.Tokens) != 0 {
		t.Fatalf("rooms=%v tokens=%v", cfg.Rooms, cfg.Tokens)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("ARC_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("ARC_HTTP_READ_TIMEOUT", "3s")
	t.Setenv("ARC_ROOMS", "org/room=r1, staff=r2:alice|bob")
	t.Setenv("ARC_TOKENS", "tok=alice:Alice")
	t.Setenv("ARC_SQLITE_PATH", "/tmp/rooms.db")

	cfg := LoadConfig()
	if cfg.HTTPAddr != "127.0.0.1:9000" || cfg.ReadTimeout != 3*time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}
	if len(cfg.Rooms) != 2 || cfg.Rooms[1] != "staff=r2:alice|bob" {
		t.Fatalf("rooms=%q", cfg.Rooms)
	}
	if cfg.SQLitePath != "/tmp/rooms.db" || len(cfg.Tokens) != 1 {
		t.Fatalf("cfg=%+v", cfg)
	}
}
