package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("UPLOAD_DIR", "")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_EXPIRES_IN", "")
	t.Setenv("AUTO_LOGIN_EXPIRES_IN", "")
	t.Setenv("STRICT_STATUS_CODES", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.DatabaseURL != "sqlite::memory:" {
		t.Fatalf("DatabaseURL = %q, want %q", cfg.DatabaseURL, "sqlite::memory:")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.UploadDir != "./uploads/tmp" {
		t.Fatalf("UploadDir = %q, want %q", cfg.UploadDir, "./uploads/tmp")
	}
	if cfg.JWTExpiresIn != 24*time.Hour {
		t.Fatalf("JWTExpiresIn = %v, want %v", cfg.JWTExpiresIn, 24*time.Hour)
	}
	if cfg.AutoLoginExpiresIn != 2*time.Minute {
		t.Fatalf("AutoLoginExpiresIn = %v, want %v", cfg.AutoLoginExpiresIn, 2*time.Minute)
	}
	if cfg.StrictStatusCodes {
		t.Fatalf("StrictStatusCodes = true, want false")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_EXPIRES_IN", "90m")
	t.Setenv("STRICT_STATUS_CODES", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.JWTExpiresIn != 90*time.Minute {
		t.Fatalf("JWTExpiresIn = %v, want %v", cfg.JWTExpiresIn, 90*time.Minute)
	}
	if !cfg.StrictStatusCodes {
		t.Fatalf("StrictStatusCodes = false, want true")
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing secret", env: map[string]string{"JWT_SECRET": ""}},
		{name: "bad duration", env: map[string]string{"JWT_SECRET": "x", "JWT_EXPIRES_IN": "soon"}},
		{name: "negative duration", env: map[string]string{"JWT_SECRET": "x", "AUTO_LOGIN_EXPIRES_IN": "-1m"}},
		{name: "bad bool", env: map[string]string{"JWT_SECRET": "x", "STRICT_STATUS_CODES": "maybe"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("JWT_EXPIRES_IN", "")
			t.Setenv("AUTO_LOGIN_EXPIRES_IN", "")
			t.Setenv("STRICT_STATUS_CODES", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil, want error")
			}
		})
	}
}
