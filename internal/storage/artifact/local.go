package artifact

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/xlpostcards/postcard-service/internal/apperr"
)

// LocalStore writes artifacts under a directory that is served at baseURL.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("local storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload writes data to a temp file and renames it into place so readers
// never see a partial artifact.
func (s *LocalStore) Upload(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperr.Wrap(apperr.CodeUpstreamFailure, "store artifact", err)
	}
	clean := filepath.Clean("/" + key)[1:]
	if clean == "" {
		return "", apperr.Invalid("key", "artifact key is empty")
	}
	dst := filepath.Join(s.dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", apperr.Wrap(apperr.CodeUpstreamFailure, "store artifact", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", apperr.Wrap(apperr.CodeUpstreamFailure, "store artifact", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", apperr.Wrap(apperr.CodeUpstreamFailure, "store artifact", err)
	}
	if err := tmp.Close(); err != nil {
		return "", apperr.Wrap(apperr.CodeUpstreamFailure, "store artifact", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", apperr.Wrap(apperr.CodeUpstreamFailure, "store artifact", err)
	}
	return s.baseURL + "/" + filepath.ToSlash(clean), nil
}

// Handler serves stored artifacts; mount it under the base URL's path.
func (s *LocalStore) Handler() http.Handler {
	return http.FileServer(http.Dir(s.dir))
}
