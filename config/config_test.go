package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[sanitizer]
ruleset_path = "rules/"

[http_api]
api_key = "secret"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned unexpected error: %v", err)
	}

	if cfg.Logging.Output != "stderr" {
		t.Errorf("expected default log output stderr, got %s", cfg.Logging.Output)
	}
	if cfg.HTTPAPI.Addr != ":8080" {
		t.Errorf("expected default API addr :8080, got %s", cfg.HTTPAPI.Addr)
	}

	ttl, err := cfg.Cache.GetTTL()
	if err != nil {
		t.Fatalf("GetTTL failed: %v", err)
	}
	if ttl != 24*time.Hour {
		t.Errorf("expected default TTL 24h, got %s", ttl)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[logging]
output = "stdout"
format = "json"
level = "debug"

[database]
[database.write]
hosts = ["db1.internal"]
port = "5433"
user = "mailsift"
password = "pw"
name = "mailsift_db"
max_conns = 20

[database.read]
hosts = ["db2.internal", "db3.internal"]
user = "mailsift_ro"
name = "mailsift_db"

[cache]
ttl = "12h"
max_size = 5000
path = "/var/cache/mailsift"
capacity = "2gb"

[s3]
enabled = true
endpoint = "s3.example.com"
access_key = "ak"
secret_key = "sk"
bucket = "mail-archive"
encrypt = true
encryption_key = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

[sanitizer]
ruleset_path = "/etc/mailsift/rulesets"

[pipeline]
max_part_depth = 20
max_attachment_text = "2mb"
process_timeout = "45s"

[http_api]
start = true
addr = ":9090"
api_key = "secret"
allowed_hosts = ["10.0.0.0/8"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned unexpected error: %v", err)
	}

	if cfg.Database.Write == nil || cfg.Database.Write.Hosts[0] != "db1.internal" {
		t.Error("write database endpoint not loaded")
	}
	if cfg.Database.Read == nil || len(cfg.Database.Read.Hosts) != 2 {
		t.Error("read database endpoint not loaded")
	}

	capacity, err := cfg.Cache.GetCapacity()
	if err != nil {
		t.Fatalf("GetCapacity failed: %v", err)
	}
	if capacity != 2<<30 {
		t.Errorf("expected 2gb capacity, got %d", capacity)
	}

	maxAttach, err := cfg.Pipeline.GetMaxAttachmentText()
	if err != nil {
		t.Fatalf("GetMaxAttachmentText failed: %v", err)
	}
	if maxAttach != 2<<20 {
		t.Errorf("expected 2mb attachment cap, got %d", maxAttach)
	}

	timeout, err := cfg.Pipeline.GetProcessTimeout()
	if err != nil {
		t.Fatalf("GetProcessTimeout failed: %v", err)
	}
	if timeout != 45*time.Second {
		t.Errorf("expected 45s process timeout, got %s", timeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			"write db without hosts",
			`
[database.write]
user = "u"
name = "db"
[http_api]
api_key = "k"
`,
		},
		{
			"write db without name",
			`
[database.write]
hosts = ["localhost"]
user = "u"
[http_api]
api_key = "k"
`,
		},
		{
			"api without key",
			`
[http_api]
start = true
addr = ":8080"
`,
		},
		{
			"api tls without cert",
			`
[http_api]
api_key = "k"
tls = true
`,
		},
		{
			"s3 without endpoint",
			`
[http_api]
api_key = "k"
[s3]
enabled = true
bucket = "b"
`,
		},
		{
			"s3 encryption without key",
			`
[http_api]
api_key = "k"
[s3]
enabled = true
endpoint = "s3.example.com"
bucket = "b"
encrypt = true
`,
		},
		{
			"bad cache ttl",
			`
[http_api]
api_key = "k"
[cache]
ttl = "soon"
`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEndpointDurationParsing(t *testing.T) {
	e := &DatabaseEndpointConfig{MaxConnLifetime: "2h", MaxConnIdleTime: "30m"}

	lifetime, err := e.GetMaxConnLifetime()
	if err != nil {
		t.Fatalf("GetMaxConnLifetime failed: %v", err)
	}
	if lifetime != 2*time.Hour {
		t.Errorf("expected 2h, got %s", lifetime)
	}

	idle, err := e.GetMaxConnIdleTime()
	if err != nil {
		t.Fatalf("GetMaxConnIdleTime failed: %v", err)
	}
	if idle != 30*time.Minute {
		t.Errorf("expected 30m, got %s", idle)
	}
}
