// Package testutil builds the in-memory database and fixtures shared by
// package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"booking-payments/database"
	"booking-payments/internal/domain/appointments"
	"booking-payments/internal/domain/billing"
	"booking-payments/internal/domain/users"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated in-memory database private to t.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func SeedUser(t testing.TB, db *gorm.DB, role string) *users.User {
	t.Helper()
	id := uuid.NewString()
	u := &users.User{
		ID:    id,
		Email: id + "@example.test",
		Name:  "Test",
		Role:  role,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func SeedAppointment(t testing.TB, db *gorm.DB, patientID, doctorID string, price string, startsAt time.Time) *appointments.Appointment {
	t.Helper()
	a := &appointments.Appointment{
		ID:              uuid.NewString(),
		PatientID:       patientID,
		DoctorID:        doctorID,
		StartsAt:        startsAt.UTC(),
		DurationMinutes: 30,
		Price:           decimal.RequireFromString(price),
		Status:          appointments.StatusPending,
	}
	require.NoError(t, db.Create(a).Error)
	return a
}

func SeedActiveAccount(t testing.TB, db *gorm.DB, doctorID string) *billing.DoctorPaymentAccount {
	t.Helper()
	a := &billing.DoctorPaymentAccount{
		DoctorID:          doctorID,
		ExternalAccountID: "acct_" + uuid.NewString()[:8],
		Status:            billing.AccountActive,
		DetailsSubmitted:  true,
		ChargesEnabled:    true,
		PayoutsEnabled:    true,
	}
	require.NoError(t, db.Create(a).Error)
	return a
}

// SeedPayment stores a payment in the given status with a 3% commission split.
func SeedPayment(t testing.TB, db *gorm.DB, appt *appointments.Appointment, status billing.PaymentStatus) *billing.Payment {
	t.Helper()
	split, err := billing.CalculateCommission(appt.Price, decimal.NewFromInt(3))
	require.NoError(t, err)

	intentID := "pi_" + uuid.NewString()[:12]
	p := &billing.Payment{
		AppointmentID:        appt.ID,
		PatientID:            appt.PatientID,
		DoctorID:             appt.DoctorID,
		AppointmentPrice:     appt.Price,
		CommissionPercentage: decimal.NewFromInt(3),
		CommissionAmount:     split.CommissionAmount,
		DoctorPayoutAmount:   split.PayoutAmount,
		Currency:             "usd",
		Status:               status,
		PaymentIntentID:      &intentID,
		PatientPaid:          status.IsSettled(),
	}
	require.NoError(t, db.Create(p).Error)
	return p
}
