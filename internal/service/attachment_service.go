package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/roamsquad/roamsquad-go-api/internal/dto"
)

var (
	// ErrAttachmentTooLarge indicates an upload over the configured limit.
	ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")
	// ErrUnsupportedAttachment indicates a file that is not an image.
	ErrUnsupportedAttachment = errors.New("unsupported attachment type")
)

// FileUploader abstracts the blob store that holds image attachments.
type FileUploader interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// AttachmentService validates and stores image attachments referenced by
// image-kind messages.
type AttachmentService interface {
	UploadImage(ctx context.Context, name string, reader io.Reader, size int64) (dto.AttachmentResponse, error)
}

type attachmentService struct {
	uploader FileUploader
	maxBytes int64
	logger   zerolog.Logger
}

// NewAttachmentService constructs the attachment service. maxBytes caps the
// accepted upload size.
func NewAttachmentService(uploader FileUploader, maxBytes int64, logger zerolog.Logger) AttachmentService {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &attachmentService{
		uploader: uploader,
		maxBytes: maxBytes,
		logger:   logger.With().Str("component", "attachment_service").Logger(),
	}
}

// UploadImage sniffs the real content type from the file bytes; the declared
// filename and header are not trusted.
func (s *attachmentService) UploadImage(ctx context.Context, name string, reader io.Reader, size int64) (dto.AttachmentResponse, error) {
	if size > s.maxBytes {
		return dto.AttachmentResponse{}, ErrAttachmentTooLarge
	}

	content, err := io.ReadAll(io.LimitReader(reader, s.maxBytes+1))
	if err != nil {
		return dto.AttachmentResponse{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	if int64(len(content)) > s.maxBytes {
		return dto.AttachmentResponse{}, ErrAttachmentTooLarge
	}

	detected := mimetype.Detect(content)
	if !strings.HasPrefix(detected.String(), "image/") {
		return dto.AttachmentResponse{}, ErrUnsupportedAttachment
	}

	url, err := s.uploader.Upload(ctx, name, bytes.NewReader(content))
	if err != nil {
		return dto.AttachmentResponse{}, fmt.Errorf("failed to store attachment: %w", err)
	}

	s.logger.Info().Str("content_type", detected.String()).Int("bytes", len(content)).Msg("attachment stored")
	return dto.AttachmentResponse{
		URL:         url,
		ContentType: detected.String(),
		Size:        int64(len(content)),
	}, nil
}
