package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/roamsquad/roamsquad-go-api/internal/models"
)

// TicketRepository handles persistence for support tickets.
type TicketRepository interface {
	Create(ctx context.Context, ticket *models.SupportTicket) error
	FindByID(ctx context.Context, id string) (models.SupportTicket, error)
	List(ctx context.Context, status string, limit, offset int) ([]models.SupportTicket, error)
	ListByUser(ctx context.Context, userID string) ([]models.SupportTicket, error)
	UpdateStatus(ctx context.Context, id, status string) (models.SupportTicket, error)
}

type ticketRepository struct {
	db *gorm.DB
}

// NewTicketRepository constructs a ticket repository backed by GORM.
func NewTicketRepository(db *gorm.DB) TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *models.SupportTicket) error {
	return r.db.WithContext(ctx).Create(ticket).Error
}

func (r *ticketRepository) FindByID(ctx context.Context, id string) (models.SupportTicket, error) {
	var ticket models.SupportTicket
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&ticket).Error; err != nil {
		return models.SupportTicket{}, err
	}
	return ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, status string, limit, offset int) ([]models.SupportTicket, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := r.db.WithContext(ctx)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var tickets []models.SupportTicket
	if err := query.Order("updated_at DESC").Offset(offset).Limit(limit).Find(&tickets).Error; err != nil {
		return nil, err
	}
	return tickets, nil
}

func (r *ticketRepository) ListByUser(ctx context.Context, userID string) ([]models.SupportTicket, error) {
	var tickets []models.SupportTicket
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC").Find(&tickets).Error; err != nil {
		return nil, err
	}
	return tickets, nil
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, id, status string) (models.SupportTicket, error) {
	var ticket models.SupportTicket
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&ticket).Error; err != nil {
		return models.SupportTicket{}, err
	}

	if ticket.Status == status {
		return ticket, nil
	}

	ticket.Status = status
	if err := r.db.WithContext(ctx).Save(&ticket).Error; err != nil {
		return models.SupportTicket{}, err
	}
	return ticket, nil
}
