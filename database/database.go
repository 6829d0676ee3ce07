package database

import (
	"fmt"
	"time"

	"booking-payments/internal/domain/appointments"
	"booking-payments/internal/domain/billing"
	"booking-payments/internal/domain/users"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Migrate creates or updates every table this service reads or writes.
func Migrate(db *gorm.DB) error {
	// Replaced by the partial idx_payments_appointment_live.
	if db.Migrator().HasIndex(&billing.Payment{}, "idx_payments_appointment_id") {
		if err := db.Migrator().DropIndex(&billing.Payment{}, "idx_payments_appointment_id"); err != nil {
			return fmt.Errorf("drop idx_payments_appointment_id: %w", err)
		}
	}
	if err := db.AutoMigrate(
		&users.User{},
		&appointments.Appointment{},

		&billing.Payment{},
		&billing.DoctorPayout{},
		&billing.DoctorPaymentAccount{},
		&billing.CommissionSetting{},
		&billing.WebhookEvent{},
	); err != nil {
		return fmt.Errorf("AutoMigrate error: %w", err)
	}
	return nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
