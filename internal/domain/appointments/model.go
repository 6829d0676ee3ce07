package appointments

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

// Appointment holds the booking columns the payment flow reads. The booking
// side of the application owns the rest of the row.
type Appointment struct {
	ID              string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	PatientID       string          `gorm:"type:varchar(64);not null;index" json:"patient_id"`
	DoctorID        string          `gorm:"type:varchar(64);not null;index" json:"doctor_id"`
	StartsAt        time.Time       `gorm:"not null" json:"starts_at"`
	DurationMinutes int             `gorm:"not null" json:"duration_minutes"`
	Price           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Status          Status          `gorm:"type:varchar(32);not null;index" json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (a *Appointment) EndsAt() time.Time {
	return a.StartsAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}
