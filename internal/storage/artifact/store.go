// Package artifact stores composed postcard images and returns the URLs the
// print vendor fetches them from.
package artifact

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Uploader hands over artifact bytes and gets back a durable URL.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

const (
	BackendLocal      = "local"
	BackendCloudinary = "cloudinary"
)

type Config struct {
	Backend          string `env:"STORAGE_BACKEND" envDefault:"local"`
	LocalDir         string `env:"STORAGE_LOCAL_DIR" envDefault:"artifacts"`
	PublicBaseURL    string `env:"STORAGE_PUBLIC_BASE_URL" envDefault:"http://localhost:8080/artifacts"`
	CloudinaryCloud  string `env:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryKey    string `env:"CLOUDINARY_API_KEY"`
	CloudinarySecret string `env:"CLOUDINARY_API_SECRET"`
	CloudinaryFolder string `env:"CLOUDINARY_FOLDER" envDefault:"postcards"`
}

// New builds the configured backend.
func New(cfg Config) (Uploader, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendLocal:
		return NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL)
	case BackendCloudinary:
		return NewCloudinaryStore(cfg.CloudinaryCloud, cfg.CloudinaryKey, cfg.CloudinarySecret, cfg.CloudinaryFolder)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Key names one side of a postcard. The random suffix keeps regenerated
// artifacts from overwriting ones a vendor may already have fetched.
func Key(transactionID, side string) string {
	return path.Join(transactionID, fmt.Sprintf("%s-%s.jpg", side, uuid.NewString()[:8]))
}
