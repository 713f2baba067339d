package service

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	name string
	size int
	err  error
}

func (f *fakeUploader) Upload(_ context.Context, name string, reader io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	f.name = name
	f.size = len(content)
	return "https://cdn.example.com/" + name, nil
}

// Minimal valid 1x1 PNG.
var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89,
}

func TestAttachmentServiceAcceptsImages(t *testing.T) {
	uploader := &fakeUploader{}
	svc := NewAttachmentService(uploader, 1<<20, zerolog.Nop())

	result, err := svc.UploadImage(context.Background(), "photo.png", bytes.NewReader(pngBytes), int64(len(pngBytes)))
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/photo.png", result.URL)
	require.Equal(t, "image/png", result.ContentType)
	require.Equal(t, int64(len(pngBytes)), result.Size)
	require.Equal(t, len(pngBytes), uploader.size)
}

func TestAttachmentServiceRejectsNonImages(t *testing.T) {
	uploader := &fakeUploader{}
	svc := NewAttachmentService(uploader, 1<<20, zerolog.Nop())

	_, err := svc.UploadImage(context.Background(), "notes.txt", strings.NewReader("plain text, not an image"), 24)
	require.ErrorIs(t, err, ErrUnsupportedAttachment)
	require.Empty(t, uploader.name)
}

func TestAttachmentServiceEnforcesSizeLimit(t *testing.T) {
	uploader := &fakeUploader{}
	svc := NewAttachmentService(uploader, 16, zerolog.Nop())

	_, err := svc.UploadImage(context.Background(), "big.png", bytes.NewReader(pngBytes), int64(len(pngBytes)))
	require.ErrorIs(t, err, ErrAttachmentTooLarge)

	// The declared size is not trusted; the real byte count is checked too.
	_, err = svc.UploadImage(context.Background(), "big.png", bytes.NewReader(pngBytes), 8)
	require.ErrorIs(t, err, ErrAttachmentTooLarge)
}
