package artifact

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xlpostcards/postcard-service/internal/apperr"
)

func TestLocalStoreUploadAndServe(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, "http://cdn.test/artifacts/")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	url, err := s.Upload(context.Background(), "tx-1/back-abc.jpg", []byte("jpeg bytes"), "image/jpeg")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if want := "http://cdn.test/artifacts/tx-1/back-abc.jpg"; url != want {
		t.Fatalf("url = %q, want %q", url, want)
	}
	got, err := os.ReadFile(filepath.Join(dir, "tx-1", "back-abc.jpg"))
	if err != nil || string(got) != "jpeg bytes" {
		t.Fatalf("stored = %q, %v", got, err)
	}

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL + "/tx-1/back-abc.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || string(body) != "jpeg bytes" {
		t.Fatalf("served %d %q", resp.StatusCode, body)
	}
}

func TestLocalStoreKeepsKeysInsideDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(filepath.Join(dir, "root"), "http://cdn.test")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	url, err := s.Upload(context.Background(), "../../escape.jpg", []byte("x"), "image/jpeg")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if url != "http://cdn.test/escape.jpg" {
		t.Fatalf("url = %q", url)
	}
	if _, err := os.Stat(filepath.Join(dir, "root", "escape.jpg")); err != nil {
		t.Fatalf("artifact not inside store dir: %v", err)
	}
}

func TestLocalStoreCancelledContext(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "http://cdn.test")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Upload(ctx, "a.jpg", nil, "image/jpeg"); !errors.Is(err, apperr.ErrUpstreamFailure) {
		t.Fatalf("err = %v, want upstream failure", err)
	}
}

func TestNewBackends(t *testing.T) {
	if _, err := New(Config{Backend: "local", LocalDir: t.TempDir()}); err != nil {
		t.Fatalf("local: %v", err)
	}
	if _, err := New(Config{Backend: "cloudinary"}); err == nil {
		t.Fatalf("cloudinary without credentials should fail")
	}
	if _, err := New(Config{Backend: "s3"}); err == nil {
		t.Fatalf("unknown backend should fail")
	}
}

func TestKey(t *testing.T) {
	k := Key("tx-9", "front")
	if !strings.HasPrefix(k, "tx-9/front-") || !strings.HasSuffix(k, ".jpg") {
		t.Fatalf("Key = %q", k)
	}
	if Key("tx-9", "front") == k {
		t.Fatalf("keys are not unique")
	}
}
