package repository

import (
	"context"
	"errors"
	"fmt"

	"booking-payments/internal/domain/appointments"
	"booking-payments/internal/domain/billing"
	"booking-payments/internal/domain/users"

	"gorm.io/gorm"
)

type AppointmentRepository struct {
	db *gorm.DB
}

func NewAppointmentRepository(db *gorm.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

func (r *AppointmentRepository) FindByID(ctx context.Context, id string) (*appointments.Appointment, error) {
	var a appointments.Appointment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("appointment %s: %w", id, billing.ErrNotFound)
		}
		return nil, fmt.Errorf("load appointment %s: %w", id, err)
	}
	return &a, nil
}

// ConfirmIfPending promotes a PENDING appointment to CONFIRMED and reports
// whether this call did it.
func (r *AppointmentRepository) ConfirmIfPending(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&appointments.Appointment{}).
		Where("id = ? AND status = ?", id, appointments.StatusPending).
		Update("status", appointments.StatusConfirmed)
	if res.Error != nil {
		return false, fmt.Errorf("confirm appointment %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*users.User, error) {
	var u users.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", id, billing.ErrNotFound)
		}
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	return &u, nil
}
