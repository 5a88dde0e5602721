package profile

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/orderlyflow/internal/model"
)

type fakeUploader struct {
	uploads   map[string]string
	uploadErr error
	avatarURL *string
}

func (f *fakeUploader) Upload(_ context.Context, path, _ string, body io.Reader) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	data, _ := io.ReadAll(body)
	if f.uploads == nil {
		f.uploads = map[string]string{}
	}
	f.uploads[path] = string(data)
	return nil
}

func (f *fakeUploader) PublicURL(path string) string {
	return "https://cdn.example.com/" + path
}

func (f *fakeUploader) UpdateProfile(_ context.Context, _ *string, avatarURL *string) (*model.User, error) {
	f.avatarURL = avatarURL
	return &model.User{ID: "user-1", AvatarURL: avatarURL}, nil
}

func TestPhotoKey(t *testing.T) {
	key, err := PhotoKey("user-1", "image/PNG")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^avatars/user-1/[0-9a-f-]{36}\.png$`), key)

	_, err = PhotoKey("user-1", "text/plain")
	assert.ErrorIs(t, err, ErrUnsupportedType)
	_, err = PhotoKey("", "image/png")
	assert.ErrorIs(t, err, ErrEmptyUserID)
}

func TestUploadPhoto(t *testing.T) {
	up := &fakeUploader{}

	u, err := UploadPhoto(context.Background(), up, "user-1", "image/jpeg", strings.NewReader("jpeg"))
	require.NoError(t, err)
	require.Len(t, up.uploads, 1)
	for key, body := range up.uploads {
		assert.True(t, strings.HasPrefix(key, "avatars/user-1/"))
		assert.True(t, strings.HasSuffix(key, ".jpg"))
		assert.Equal(t, "jpeg", body)
		require.NotNil(t, u.AvatarURL)
		assert.Equal(t, "https://cdn.example.com/"+key, *u.AvatarURL)
	}
}

func TestUploadPhotoFailureLeavesProfile(t *testing.T) {
	up := &fakeUploader{uploadErr: errors.New("disk full")}

	_, err := UploadPhoto(context.Background(), up, "user-1", "image/png", strings.NewReader("x"))
	require.Error(t, err)
	assert.Nil(t, up.avatarURL)
}
