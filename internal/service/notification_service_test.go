package service

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/roamsquad/roamsquad-go-api/internal/dto"
	"github.com/roamsquad/roamsquad-go-api/internal/repository"
	"github.com/roamsquad/roamsquad-go-api/pkg/realtime"
)

type recordingPusher struct {
	userID  string
	event   string
	payload any
}

func (r *recordingPusher) PushToUser(userID, event string, payload any) {
	r.userID = userID
	r.event = event
	r.payload = payload
}

func newTestNotificationService(t *testing.T) (NotificationService, *recordingPusher) {
	t.Helper()
	db := chatTestDB(t)
	pusher := &recordingPusher{}
	validate := validator.New(validator.WithRequiredStructEnabled())
	return NewNotificationService(repository.NewNotificationRepository(db), pusher, validate, zerolog.Nop()), pusher
}

func TestNotificationServicePublishPersistsAndPushes(t *testing.T) {
	svc, pusher := newTestNotificationService(t)

	notification, err := svc.Publish(context.Background(), dto.NotificationCreateRequest{
		UserID:  "user-1",
		Type:    "trip_invite",
		Message: "Sam invited you to the Patagonia squad",
	})
	require.NoError(t, err)
	require.NotZero(t, notification.ID)
	require.False(t, notification.Read)

	require.Equal(t, "user-1", pusher.userID)
	require.Equal(t, realtime.EventNewNotification, pusher.event)
	pushed, ok := pusher.payload.(dto.NotificationResponse)
	require.True(t, ok)
	require.Equal(t, notification.ID, pushed.ID)
}

func TestNotificationServicePublishValidates(t *testing.T) {
	svc, pusher := newTestNotificationService(t)

	_, err := svc.Publish(context.Background(), dto.NotificationCreateRequest{UserID: "user-1", Type: "x"})
	require.Error(t, err)
	require.Empty(t, pusher.event)

	// Markup-only messages sanitize to nothing and fail validation.
	_, err = svc.Publish(context.Background(), dto.NotificationCreateRequest{
		UserID:  "user-1",
		Type:    "trip_invite",
		Message: "<script>alert(1)</script>",
	})
	require.Error(t, err)
}

func TestNotificationServiceListAndMarkRead(t *testing.T) {
	svc, _ := newTestNotificationService(t)

	ctx := context.Background()
	first, err := svc.Publish(ctx, dto.NotificationCreateRequest{UserID: "user-1", Type: "system", Message: "welcome"})
	require.NoError(t, err)
	_, err = svc.Publish(ctx, dto.NotificationCreateRequest{UserID: "user-2", Type: "system", Message: "welcome"})
	require.NoError(t, err)

	mine, err := svc.List(ctx, "user-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	read, err := svc.MarkRead(ctx, first.ID, "user-1")
	require.NoError(t, err)
	require.True(t, read.Read)

	// Re-reading is idempotent; foreign ids are invisible.
	_, err = svc.MarkRead(ctx, first.ID, "user-1")
	require.NoError(t, err)
	_, err = svc.MarkRead(ctx, first.ID, "user-2")
	require.ErrorIs(t, err, ErrNotificationNotFound)
}
