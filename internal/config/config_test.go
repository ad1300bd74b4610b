package config

import "testing"

func TestParseDefault(t *testing.T) {
	cfg, err := Parse("")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage != nil {
		t.Fatalf("expected nil storage, got %+v", cfg.Storage)
	}
	if len(cfg.HTTP) != 0 || len(cfg.TCP) != 0 {
		t.Fatalf("expected empty transport lists, got %+v / %+v", cfg.HTTP, cfg.TCP)
	}
}

func TestParseStorageSqlite(t *testing.T) {
	cfg, err := Parse(`
		[storage]
		backend = "sqlite"
		sqlite.filename = "objtalk.db"
	`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage == nil || cfg.Storage.Backend != "sqlite" || cfg.Storage.Sqlite.Filename != "objtalk.db" {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
}

func TestParseHTTPAddr(t *testing.T) {
	cfg, err := Parse(`
		[[http]]
		addr = "127.0.0.1:4000"
	`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.HTTP) != 1 || cfg.HTTP[0].Addr != "127.0.0.1:4000" {
		t.Fatalf("unexpected http config: %+v", cfg.HTTP)
	}
	if cfg.HTTP[0].Admin.Enabled {
		t.Fatalf("expected admin disabled by default")
	}
}

func TestParseHTTPAdminAssetOverrides(t *testing.T) {
	cfg, err := Parse(`
		[[http]]
		addr = "127.0.0.1:4000"
		admin.enabled = true
		admin.asset-overrides = "assets"
	`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	admin := cfg.HTTP[0].Admin
	if !admin.Enabled || admin.AssetOverrides != "assets" {
		t.Fatalf("unexpected admin config: %+v", admin)
	}
}

func TestParseHTTPAllowOrigin(t *testing.T) {
	cfg, err := Parse(`
		[[http]]
		addr = "127.0.0.1:4000"
		allow-origin = "localhost"
	`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.HTTP[0].AllowOrigin != "localhost" {
		t.Fatalf("unexpected allow-origin: %q", cfg.HTTP[0].AllowOrigin)
	}
}

func TestParseMultipleTCP(t *testing.T) {
	cfg, err := Parse(`
		[[tcp]]
		addr = "127.0.0.1:4000"
		[[tcp]]
		addr = "127.0.0.1:4001"
	`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.TCP) != 2 || cfg.TCP[0].Addr != "127.0.0.1:4000" || cfg.TCP[1].Addr != "127.0.0.1:4001" {
		t.Fatalf("unexpected tcp config: %+v", cfg.TCP)
	}
}

func TestParseKafkaAndNATSAndMonitor(t *testing.T) {
	cfg, err := Parse(`
		[[kafka]]
		brokers = ["localhost:9092"]
		group = "objtalkd"
		topics = ["sensors"]
		objectPrefix = "kafka/"

		[nats]
		addr = "localhost:4222"
		subject = "objtalk.log"

		[monitor]
		interval = "5s"
	`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Kafka) != 1 || cfg.Kafka[0].Group != "objtalkd" || cfg.Kafka[0].ObjectPrefix != "kafka/" {
		t.Fatalf("unexpected kafka config: %+v", cfg.Kafka)
	}
	if cfg.NATS == nil || cfg.NATS.Subject != "objtalk.log" {
		t.Fatalf("unexpected nats config: %+v", cfg.NATS)
	}
	if cfg.Monitor == nil || cfg.Monitor.Interval.String() != "5s" {
		t.Fatalf("unexpected monitor config: %+v", cfg.Monitor)
	}
}

func TestParseUnknownKeyRejected(t *testing.T) {
	_, err := Parse(`
		bogus = true
	`)
	if err == nil {
		t.Fatalf("expected error for unknown top-level key")
	}
}
