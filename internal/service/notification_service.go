package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/roamsquad/roamsquad-go-api/internal/dto"
	"github.com/roamsquad/roamsquad-go-api/internal/models"
	"github.com/roamsquad/roamsquad-go-api/internal/repository"
	"github.com/roamsquad/roamsquad-go-api/pkg/realtime"
)

// ErrNotificationNotFound indicates the notification does not exist or
// belongs to another user.
var ErrNotificationNotFound = errors.New("notification not found")

// UserPusher is the slice of the chat service used to deliver realtime
// pushes to a single user.
type UserPusher interface {
	PushToUser(userID, event string, payload any)
}

// NotificationService persists notifications and pushes them over the
// realtime connection as new_notification events.
type NotificationService interface {
	Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error)
	List(ctx context.Context, userID string, limit, offset int) ([]dto.NotificationResponse, error)
	MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error)
}

type notificationService struct {
	repo      repository.NotificationRepository
	pusher    UserPusher
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewNotificationService constructs the notification service. pusher may be
// nil, in which case notifications are persisted without a realtime push.
func NewNotificationService(repo repository.NotificationRepository, pusher UserPusher, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	return &notificationService{
		repo:      repo,
		pusher:    pusher,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "notification_service").Logger(),
	}
}

func (s *notificationService) Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error) {
	payload.Message = strings.TrimSpace(s.sanitizer.Sanitize(payload.Message))
	if err := s.validator.Struct(payload); err != nil {
		return dto.NotificationResponse{}, err
	}

	notification := models.Notification{
		UserID:  payload.UserID,
		Type:    payload.Type,
		Message: payload.Message,
	}
	if err := s.repo.Create(ctx, &notification); err != nil {
		return dto.NotificationResponse{}, err
	}

	response := dto.NewNotificationResponse(notification)
	if s.pusher != nil {
		s.pusher.PushToUser(payload.UserID, realtime.EventNewNotification, response)
	}

	s.logger.Debug().Str("user_id", payload.UserID).Str("type", payload.Type).Msg("notification published")
	return response, nil
}

func (s *notificationService) List(ctx context.Context, userID string, limit, offset int) ([]dto.NotificationResponse, error) {
	notifications, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return dto.NewNotificationResponseSlice(notifications), nil
}

func (s *notificationService) MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error) {
	notification, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.NotificationResponse{}, ErrNotificationNotFound
		}
		return dto.NotificationResponse{}, err
	}
	return dto.NewNotificationResponse(notification), nil
}
