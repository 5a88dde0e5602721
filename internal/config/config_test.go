package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("server.addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Errorf("auth.token_ttl = %v, want 1h", cfg.Auth.TokenTTL)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("storage.driver = %q, want memory", cfg.Storage.Driver)
	}
	if cfg.Storage.MaxUploadBytes != 5<<20 {
		t.Errorf("storage.max_upload_bytes = %d", cfg.Storage.MaxUploadBytes)
	}
	if err := cfg.ValidateServer(); err == nil {
		t.Error("expected ValidateServer to reject the empty token secret")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orderlyflow.yaml")
	yaml := `
server:
  addr: ":9090"
auth:
  token_secret: "file-secret-file-secret"
  token_ttl: 30m
storage:
  driver: s3
  s3:
    bucket: photos
    endpoint: http://localhost:9000
logging:
  format: json
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ORDERLYFLOW_SERVER_ADDR", ":7070")
	t.Setenv("ORDERLYFLOW_STORAGE_S3_ACCESS_KEY", "AKIAEXAMPLE")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("server.addr = %q, env should win over file", cfg.Server.Addr)
	}
	if cfg.Auth.TokenTTL != 30*time.Minute {
		t.Errorf("auth.token_ttl = %v, want 30m", cfg.Auth.TokenTTL)
	}
	if cfg.Storage.S3.Bucket != "photos" || cfg.Storage.S3.AccessKey != "AKIAEXAMPLE" {
		t.Errorf("s3 = %+v", cfg.Storage.S3)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging.format = %q", cfg.Logging.Format)
	}
	if err := cfg.ValidateServer(); err != nil {
		t.Errorf("ValidateServer: %v", err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"ORDERLYFLOW_STORAGE_DRIVER": "ftp"}},
		{"s3 without bucket", map[string]string{"ORDERLYFLOW_STORAGE_DRIVER": "s3"}},
		{"bad log format", map[string]string{"ORDERLYFLOW_LOGGING_FORMAT": "xml"}},
		{"zero ttl", map[string]string{"ORDERLYFLOW_AUTH_TOKEN_TTL": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := Config{
		Auth:    AuthConfig{TokenSecret: "supersecretvalue123"},
		Storage: StorageConfig{S3: S3Config{SecretKey: "wJalrXUtnFEMIK7MDENG"}},
		Email:   EmailConfig{PostmarkToken: "short"},
		Client:  ClientConfig{Password: "hunter2hunter2"},
	}
	s := cfg.String()
	for _, secret := range []string{"supersecretvalue123", "wJalrXUtnFEMIK7MDENG", "short", "hunter2hunter2"} {
		if strings.Contains(s, secret) {
			t.Errorf("String() leaks %q: %s", secret, s)
		}
	}
	if !strings.Contains(s, "supe****e123") {
		t.Errorf("expected masked token secret in %s", s)
	}
}
