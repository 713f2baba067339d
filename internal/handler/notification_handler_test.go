package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
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

type mockNotificationService struct {
	published dto.NotificationCreateRequest
	readID    uint
	readBy    string
	response  dto.NotificationResponse
	list      []dto.NotificationResponse
	err       error
}

func (m *mockNotificationService) Publish(_ context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error) {
	m.published = payload
	if m.err != nil {
		return dto.NotificationResponse{}, m.err
	}
	return m.response, nil
}

func (m *mockNotificationService) List(context.Context, string, int, int) ([]dto.NotificationResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.list, nil
}

func (m *mockNotificationService) MarkRead(_ context.Context, id uint, userID string) (dto.NotificationResponse, error) {
	m.readID = id
	m.readBy = userID
	if m.err != nil {
		return dto.NotificationResponse{}, m.err
	}
	return m.response, nil
}

func newNotificationApp(svc service.NotificationService, userID, role string) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v2/notifications", func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		c.Locals("user_role", role)
		return c.Next()
	})
	handler.NewNotificationHandler(svc, zerolog.New(io.Discard)).Register(group)
	return app
}

func TestNotificationHandlerList(t *testing.T) {
	svc := &mockNotificationService{list: []dto.NotificationResponse{{ID: 1, Message: "hi"}}}
	app := newNotificationApp(svc, "user-1", "user")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/notifications", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var response struct {
		Data []dto.NotificationResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)
	require.Len(t, response.Data, 1)
}

func TestNotificationHandlerPublishAdminOnly(t *testing.T) {
	svc := &mockNotificationService{response: dto.NotificationResponse{ID: 7}}

	body, err := json.Marshal(dto.NotificationCreateRequest{UserID: "user-2", Type: "system", Message: "hello"})
	require.NoError(t, err)

	userApp := newNotificationApp(svc, "user-1", "user")
	req := httptest.NewRequest(http.MethodPost, "/api/v2/notifications", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := userApp.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	adminApp := newNotificationApp(svc, "agent-1", "admin")
	req = httptest.NewRequest(http.MethodPost, "/api/v2/notifications", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err = adminApp.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Equal(t, "user-2", svc.published.UserID)
}

func TestNotificationHandlerMarkRead(t *testing.T) {
	svc := &mockNotificationService{response: dto.NotificationResponse{ID: 3, Read: true}}
	app := newNotificationApp(svc, "user-1", "user")

	resp, err := app.Test(httptest.NewRequest(http.MethodPatch, "/api/v2/notifications/3/read", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, uint(3), svc.readID)
	require.Equal(t, "user-1", svc.readBy)

	resp, err = app.Test(httptest.NewRequest(http.MethodPatch, "/api/v2/notifications/zero/read", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	svc.err = service.ErrNotificationNotFound
	resp, err = app.Test(httptest.NewRequest(http.MethodPatch, "/api/v2/notifications/9/read", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
