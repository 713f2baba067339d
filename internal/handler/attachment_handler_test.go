package handler_test

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/roamsquad/roamsquad-go-api/internal/dto"
	"github.com/roamsquad/roamsquad-go-api/internal/handler"
	"github.com/roamsquad/roamsquad-go-api/internal/service"
)

type mockAttachmentService struct {
	name     string
	size     int64
	response dto.AttachmentResponse
	err      error
}

func (m *mockAttachmentService) UploadImage(_ context.Context, name string, reader io.Reader, size int64) (dto.AttachmentResponse, error) {
	m.name = name
	m.size = size
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return dto.AttachmentResponse{}, err
	}
	if m.err != nil {
		return dto.AttachmentResponse{}, m.err
	}
	return m.response, nil
}

func newAttachmentApp(svc service.AttachmentService) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v2/attachments", func(c *fiber.Ctx) error {
		c.Locals("user_id", "user-1")
		return c.Next()
	})
	handler.NewAttachmentHandler(svc, zerolog.New(io.Discard)).Register(group)
	return app
}

func multipartUpload(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return buf, writer.FormDataContentType()
}

func TestAttachmentHandlerUpload(t *testing.T) {
	svc := &mockAttachmentService{response: dto.AttachmentResponse{URL: "https://cdn.example.com/photo.png", ContentType: "image/png", Size: 12}}
	app := newAttachmentApp(svc)

	buf, contentType := multipartUpload(t, "file", "photo.png", []byte("fake image bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/v2/attachments", buf)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Equal(t, "photo.png", svc.name)
	require.Equal(t, int64(len("fake image bytes")), svc.size)

	var response struct {
		Data dto.AttachmentResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)
	require.Equal(t, "https://cdn.example.com/photo.png", response.Data.URL)
}

func TestAttachmentHandlerMissingFile(t *testing.T) {
	app := newAttachmentApp(&mockAttachmentService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v2/attachments", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAttachmentHandlerServiceErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		statusCode int
	}{
		{name: "too large", err: service.ErrAttachmentTooLarge, statusCode: fiber.StatusRequestEntityTooLarge},
		{name: "not an image", err: service.ErrUnsupportedAttachment, statusCode: fiber.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newAttachmentApp(&mockAttachmentService{err: tc.err})

			buf, contentType := multipartUpload(t, "file", "notes.txt", []byte("nope"))
			req := httptest.NewRequest(http.MethodPost, "/api/v2/attachments", buf)
			req.Header.Set("Content-Type", contentType)

			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.statusCode, resp.StatusCode)
		})
	}
}
