package artifact

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/xlpostcards/postcard-service/internal/apperr"
)

// CloudinaryStore uploads artifacts to a Cloudinary folder.
type CloudinaryStore struct {
	cld    *cloudinary.Cloudinary
	folder string
}

func NewCloudinaryStore(cloud, key, secret, folder string) (*CloudinaryStore, error) {
	if cloud == "" || key == "" || secret == "" {
		return nil, fmt.Errorf("cloudinary cloud name, api key and secret are required")
	}
	cld, err := cloudinary.NewFromParams(cloud, key, secret)
	if err != nil {
		return nil, fmt.Errorf("configure cloudinary: %w", err)
	}
	return &CloudinaryStore{cld: cld, folder: folder}, nil
}

func (s *CloudinaryStore) Upload(ctx context.Context, key string, data []byte, _ string) (string, error) {
	publicID := strings.TrimSuffix(key, path.Ext(key))
	resp, err := s.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		PublicID:       publicID,
		Folder:         s.folder,
		ResourceType:   "image",
		Overwrite:      api.Bool(true),
		UniqueFilename: api.Bool(false),
	})
	if err != nil {
		return "", apperr.Wrap(apperr.CodeUpstreamFailure, "upload artifact", err)
	}
	if resp.Error.Message != "" {
		return "", apperr.Wrap(apperr.CodeUpstreamFailure, "upload artifact", fmt.Errorf("cloudinary: %s", resp.Error.Message))
	}
	if resp.SecureURL == "" {
		return "", apperr.Wrap(apperr.CodeUpstreamFailure, "upload artifact", fmt.Errorf("cloudinary returned no url for %s", publicID))
	}
	return resp.SecureURL, nil
}
