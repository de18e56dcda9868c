package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/parking-anpr/internal/anpr"
	"github.com/example/parking-anpr/internal/logging"
	"github.com/example/parking-anpr/internal/repository"
)

// Recognizer is the subset of the ANPR client used by the scan flow.
type Recognizer interface {
	Process(ctx context.Context, imageBase64 string) (*anpr.Result, error)
	ProcessBatch(ctx context.Context, imagesBase64 []string) (*anpr.Result, error)
	Healthy(ctx context.Context) bool
}

// VehicleRepository defines the registry lookup needed by the scan flow.
type VehicleRepository interface {
	FindByNormalizedPlates(ctx context.Context, requestID string, plates []string) ([]repository.Vehicle, error)
}

// ScanUseCase runs plate recognition and matches detections against the vehicle registry.
type ScanUseCase struct {
	recognizer     Recognizer
	vehicles       VehicleRepository
	cache          VehicleCache
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// EnrichedDetection is a detection together with its registry match, if any.
type EnrichedDetection struct {
	anpr.Detection
	NormalizedRegistration string              `json:"normalized_registration"`
	Vehicle                *repository.Vehicle `json:"vehicle"`
	Matched                bool                `json:"matched"`
}

// Summary counts matched and unmatched detections.
type Summary struct {
	TotalDetected int `json:"totalDetected"`
	Matched       int `json:"matched"`
	Unmatched     int `json:"unmatched"`
}

// ScanResult is the outcome of one scan.
type ScanResult struct {
	RequestID  string               `json:"request_id"`
	Detections []EnrichedDetection  `json:"detections"`
	Vehicles   []repository.Vehicle `json:"vehicles"`
	Summary    Summary              `json:"summary"`
}

// NewScanUseCase constructs a new use case instance. cache may be nil.
func NewScanUseCase(recognizer Recognizer, vehicles VehicleRepository, cache VehicleCache, logger *zap.Logger) *ScanUseCase {
	return &ScanUseCase{
		recognizer:     recognizer,
		vehicles:       vehicles,
		cache:          cache,
		logger:         logger.Named("scan_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// ProcessWithLookup recognizes plates in one image and looks up the matching vehicles.
// Recognition errors are returned wrapped; anpr.Kind still classifies them.
func (uc *ScanUseCase) ProcessWithLookup(ctx context.Context, imageBase64 string) (*ScanResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.process_with_lookup", requestID)

	result, err := uc.recognizer.Process(ctx, imageBase64)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.recognize", requestID, err)
		opLogger.Warn("plate recognition failed", zap.Error(wrapped), zap.Stringer("kind", anpr.Kind(err)))
		return nil, wrapped
	}
	return uc.enrich(ctx, requestID, result), nil
}

// ProcessBatchWithLookup is ProcessWithLookup for several images sent in one request.
func (uc *ScanUseCase) ProcessBatchWithLookup(ctx context.Context, imagesBase64 []string) (*ScanResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.process_batch_with_lookup", requestID)

	result, err := uc.recognizer.ProcessBatch(ctx, imagesBase64)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.recognize_batch", requestID, err)
		opLogger.Warn("batch plate recognition failed", zap.Error(wrapped), zap.Stringer("kind", anpr.Kind(err)))
		return nil, wrapped
	}
	return uc.enrich(ctx, requestID, result), nil
}

// ServiceAvailable reports whether the recognition service is usable.
func (uc *ScanUseCase) ServiceAvailable(ctx context.Context) bool {
	return uc.recognizer.Healthy(ctx)
}

func (uc *ScanUseCase) enrich(ctx context.Context, requestID string, result *anpr.Result) *ScanResult {
	scan := &ScanResult{
		RequestID:  requestID,
		Detections: make([]EnrichedDetection, 0, len(result.Detections)),
		Vehicles:   []repository.Vehicle{},
	}
	if len(result.Detections) == 0 {
		return scan
	}

	plates := make([]string, 0, len(result.Detections))
	for _, detection := range result.Detections {
		plates = append(plates, NormalizePlate(detection.Registration))
	}

	matches := uc.lookupVehicles(ctx, requestID, plates)
	seen := make(map[uint]bool, len(matches))
	for i, detection := range result.Detections {
		enriched := EnrichedDetection{Detection: detection, NormalizedRegistration: plates[i]}
		if vehicle, ok := matches[plates[i]]; ok {
			v := vehicle
			enriched.Vehicle = &v
			enriched.Matched = true
			scan.Summary.Matched++
			if !seen[vehicle.ID] {
				seen[vehicle.ID] = true
				scan.Vehicles = append(scan.Vehicles, vehicle)
			}
		}
		scan.Detections = append(scan.Detections, enriched)
	}
	scan.Summary.TotalDetected = len(result.Detections)
	scan.Summary.Unmatched = scan.Summary.TotalDetected - scan.Summary.Matched
	return scan
}

// lookupVehicles never fails: cache and registry errors are logged and the
// affected plates stay unmatched.
func (uc *ScanUseCase) lookupVehicles(ctx context.Context, requestID string, plates []string) map[string]repository.Vehicle {
	opLogger := logging.WithOperation(uc.logger, "usecase.lookup_vehicles", requestID)
	found := make(map[string]repository.Vehicle, len(plates))
	missing := make([]string, 0, len(plates))
	queued := make(map[string]bool, len(plates))

	for _, plate := range plates {
		if plate == "" || queued[plate] {
			continue
		}
		queued[plate] = true

		if uc.cache != nil {
			cached, err := uc.cachedVehicle(ctx, requestID, plate)
			if err == nil {
				found[plate] = cached
				continue
			}
			if !errors.Is(err, redis.Nil) {
				opLogger.Warn("failed to read vehicle cache", zap.String("plate", plate), zap.Error(err))
			}
		}
		missing = append(missing, plate)
	}

	if len(missing) == 0 {
		return found
	}

	vehicles, err := uc.vehicles.FindByNormalizedPlates(ctx, requestID, missing)
	if err != nil {
		opLogger.Error("vehicle lookup failed", zap.Error(err))
		return found
	}

	for _, vehicle := range vehicles {
		plate := NormalizePlate(vehicle.RegistrationPlate)
		if _, ok := found[plate]; ok {
			continue
		}
		found[plate] = vehicle

		if uc.cache == nil {
			continue
		}
		if err := uc.withRedisRetry(ctx, requestID, "cache.set.vehicle", func() error {
			return uc.cache.SetVehicle(ctx, plate, vehicle)
		}); err != nil {
			opLogger.Warn("failed to cache vehicle", zap.String("plate", plate), zap.Error(err))
		}
	}
	return found
}

func (uc *ScanUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *ScanUseCase) cachedVehicle(ctx context.Context, requestID, plate string) (repository.Vehicle, error) {
	var vehicle repository.Vehicle
	err := uc.withRedisRetry(ctx, requestID, "cache.get.vehicle", func() error {
		cached, err := uc.cache.GetVehicle(ctx, plate)
		if err != nil {
			return err
		}
		vehicle = cached
		return nil
	})
	return vehicle, err
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
