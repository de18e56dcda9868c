package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/parking-anpr/internal/logging"
)

// Vehicle is a registered vehicle as stored by the staff application.
type Vehicle struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	RegistrationPlate string    `gorm:"column:registration_plate;size:32;index" json:"registration_plate"`
	PermitNumber      string    `gorm:"column:permit_number;size:64" json:"permit_number,omitempty"`
	ParkingType       string    `gorm:"column:parking_type;size:64" json:"parking_type,omitempty"`
	IsActive          bool      `gorm:"column:is_active" json:"is_active"`
	Notes             string    `gorm:"column:notes;type:text" json:"notes,omitempty"`
	CreatedAt         time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides the default table name.
func (Vehicle) TableName() string {
	return "vehicles"
}

// VehicleRepository reads the vehicle registry.
type VehicleRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVehicleRepository creates a new repository instance.
func NewVehicleRepository(db *gorm.DB, logger *zap.Logger) *VehicleRepository {
	return &VehicleRepository{
		db:             db,
		logger:         logger.Named("vehicle_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *VehicleRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Vehicle{})
}

// normalizedPlateExpr mirrors usecase.NormalizePlate in SQL: every whitespace
// character is stripped, not just spaces.
const normalizedPlateExpr = `UPPER(REGEXP_REPLACE(registration_plate, '\s', '', 'g'))`

// FindByNormalizedPlates returns vehicles whose plate, uppercased with all
// whitespace removed, is one of plates. Callers pass already-normalized values.
func (r *VehicleRepository) FindByNormalizedPlates(ctx context.Context, requestID string, plates []string) ([]Vehicle, error) {
	if len(plates) == 0 {
		return nil, nil
	}

	var vehicles []Vehicle
	err := r.executeWithRetry(ctx, "repository.find_vehicles", requestID, func() error {
		vehicles = vehicles[:0]
		return r.db.WithContext(ctx).
			Where(normalizedPlateExpr+" IN ?", plates).
			Order("registration_plate").
			Find(&vehicles).Error
	})
	if err != nil {
		return nil, err
	}
	return vehicles, nil
}

func (r *VehicleRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("vehicle query failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}
		opLogger.Warn("transient vehicle query error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
