package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify defaults
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Import.InitialWindow != 50 {
		t.Errorf("Import.InitialWindow = %d, want %d", cfg.Import.InitialWindow, 50)
	}
	if cfg.Import.ChunkSize != 500 {
		t.Errorf("Import.ChunkSize = %d, want %d", cfg.Import.ChunkSize, 500)
	}
	if cfg.Import.MaxConcurrent != 25 {
		t.Errorf("Import.MaxConcurrent = %d, want %d", cfg.Import.MaxConcurrent, 25)
	}
	if cfg.Import.SchemaDir != "schemas" {
		t.Errorf("Import.SchemaDir = %q, want %q", cfg.Import.SchemaDir, "schemas")
	}
	if cfg.Rate.RequestsPerMinute != 100 {
		t.Errorf("Rate.RequestsPerMinute = %d, want %d", cfg.Rate.RequestsPerMinute, 100)
	}
}

func TestLoad_OverrideDefaults(t *testing.T) {
	os.Setenv("SERVER_PORT", "9090")
	os.Setenv("IMPORT_MAX_CONCURRENT", "10")
	os.Setenv("LOG_LEVEL", "debug")
	defer func() {
		os.Unsetenv("SERVER_PORT")
		os.Unsetenv("IMPORT_MAX_CONCURRENT")
		os.Unsetenv("LOG_LEVEL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9090)
	}
	if cfg.Import.MaxConcurrent != 10 {
		t.Errorf("Import.MaxConcurrent = %d, want %d", cfg.Import.MaxConcurrent, 10)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_Duration(t *testing.T) {
	os.Setenv("SERVER_READ_TIMEOUT", "45s")
	os.Setenv("IMPORT_MAX_WAIT_TIME", "1m30s")
	defer func() {
		os.Unsetenv("SERVER_READ_TIMEOUT")
		os.Unsetenv("IMPORT_MAX_WAIT_TIME")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ReadTimeout != 45*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want %v", cfg.Server.ReadTimeout, 45*time.Second)
	}
	if cfg.Import.MaxWaitTime != 90*time.Second {
		t.Errorf("Import.MaxWaitTime = %v, want %v", cfg.Import.MaxWaitTime, 90*time.Second)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	os.Setenv("IMPORT_SESSION_TTL", "not-a-duration")
	defer os.Unsetenv("IMPORT_SESSION_TTL")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "IMPORT_SESSION_TTL") {
		t.Errorf("error should mention IMPORT_SESSION_TTL: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 99999

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid port")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Errorf("error should mention SERVER_PORT: %v", err)
	}
}

func TestValidate_InvalidChunkSize(t *testing.T) {
	cfg := validConfig()
	cfg.Import.ChunkSize = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for zero chunk size")
	}
	if !strings.Contains(err.Error(), "IMPORT_CHUNK_SIZE") {
		t.Errorf("error should mention IMPORT_CHUNK_SIZE: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "LOG_LEVEL") {
		t.Errorf("error should mention LOG_LEVEL: %v", err)
	}
}

func TestServerAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"", 8080, ":8080"},
		{"0.0.0.0", 8080, "0.0.0.0:8080"},
		{"127.0.0.1", 3000, "127.0.0.1:3000"},
		{"localhost", 443, "localhost:443"},
	}

	for _, tt := range tests {
		cfg := &ServerConfig{Host: tt.host, Port: tt.port}
		got := cfg.Addr()
		if got != tt.want {
			t.Errorf("Addr() with host=%q, port=%d = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, ShutdownTimeout: time.Second, MaxBodySize: 1},
		Import: ImportConfig{
			SchemaDir:     "schemas",
			InitialWindow: 50,
			ChunkSize:     500,
			MaxConcurrent: 25,
			MaxWaitTime:   time.Second,
			SessionTTL:    time.Minute,
		},
		Rate:    RateLimitConfig{Enabled: true, RequestsPerMinute: 100},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}
