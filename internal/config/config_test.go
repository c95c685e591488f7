package config

import (
	"strings"
	"testing"
	"time"

	"github.com/xlpostcards/postcard-service/pkg/db"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 8080 || cfg.HTTP.Addr() != ":8080" {
		t.Fatalf("port = %d, want 8080", cfg.HTTP.Port)
	}
	if cfg.DB.Driver != db.DialectSQLite {
		t.Fatalf("driver = %q, want sqlite", cfg.DB.Driver)
	}
	if cfg.Render.JPEGQuality != 95 || cfg.Promo.CodePrefix != "XLWelcome" {
		t.Fatalf("render/promo defaults = %+v %+v", cfg.Render, cfg.Promo)
	}
	if cfg.Storage.Backend != "local" {
		t.Fatalf("storage backend = %q, want local", cfg.Storage.Backend)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("FONT_PATHS", "/a.ttf:/b.otf")
	t.Setenv("HTTP_WRITE_TIMEOUT", "2m")
	t.Setenv("PROMO_ENABLED", "false")
	t.Setenv("PROMO_CODE_PREFIX", "")
	t.Setenv("FRONT_FETCH_ALLOWED_HOSTS", "images.example.com,.cdn.example.net")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 9090 || cfg.HTTP.WriteTimeout != 2*time.Minute {
		t.Fatalf("http = %+v", cfg.HTTP)
	}
	if cfg.DB.Driver != db.DialectPostgres || cfg.DB.Postgres.Host != "db.internal" {
		t.Fatalf("db = %+v", cfg.DB)
	}
	if len(cfg.Render.FontPaths) != 2 || cfg.Render.FontPaths[1] != "/b.otf" {
		t.Fatalf("font paths = %q", cfg.Render.FontPaths)
	}
	if len(cfg.Render.FetchHosts) != 2 || cfg.Render.FetchHosts[1] != ".cdn.example.net" {
		t.Fatalf("fetch hosts = %q", cfg.Render.FetchHosts)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"driver", "DB_DRIVER", "mysql", "DB_DRIVER"},
		{"quality", "JPEG_QUALITY", "0", "JPEG_QUALITY"},
		{"level", "LOG_LEVEL", "loud", "LOG_LEVEL"},
		{"port type", "PORT", "http", "parse env:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
