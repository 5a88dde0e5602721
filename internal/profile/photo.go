// Package profile manages the signed-in user's profile photo.
package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/dukerupert/orderlyflow/internal/backend"
	"github.com/dukerupert/orderlyflow/internal/model"
)

var (
	ErrUnsupportedType = errors.New("profile: unsupported image type")
	ErrEmptyUserID     = errors.New("profile: user id is required")
)

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Uploader stores objects and updates the user's profile.
type Uploader interface {
	backend.Storage
	UpdateProfile(ctx context.Context, name, avatarURL *string) (*model.User, error)
}

// PhotoKey returns the storage path of a new photo for userID.
func PhotoKey(userID, contentType string) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}
	ext, ok := extensions[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	return fmt.Sprintf("avatars/%s/%s.%s", userID, uuid.NewString(), ext), nil
}

// UploadPhoto uploads body as userID's profile photo and points the user's
// avatar URL at it.
func UploadPhoto(ctx context.Context, up Uploader, userID, contentType string, body io.Reader) (*model.User, error) {
	key, err := PhotoKey(userID, contentType)
	if err != nil {
		return nil, err
	}
	if err := up.Upload(ctx, key, contentType, body); err != nil {
		return nil, fmt.Errorf("upload photo: %w", err)
	}
	url := up.PublicURL(key)
	u, err := up.UpdateProfile(ctx, nil, &url)
	if err != nil {
		return nil, fmt.Errorf("set avatar url: %w", err)
	}
	return u, nil
}
