package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suriyathilakam/image-comparison-service/internal/imagecompare"
	"github.com/suriyathilakam/image-comparison-service/internal/logging"
	"github.com/suriyathilakam/image-comparison-service/internal/repository"
)

// ErrImageNotFound reports a compare or lookup against an unknown image id.
var ErrImageNotFound = errors.New("image not found in database")

// ImageRepository defines the persistence operations needed by the use case.
type ImageRepository interface {
	SaveImage(ctx context.Context, img *repository.Image) error
	FindImageByID(ctx context.Context, id uint) (*repository.Image, error)
	FindImageMetaByID(ctx context.Context, id uint) (*repository.Image, error)
	SaveComparison(ctx context.Context, log *repository.ComparisonLog) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// ImageUseCase encapsulates business logic for ingestion and comparison.
type ImageUseCase struct {
	repo           ImageRepository
	cache          Cache
	comparer       imagecompare.Comparer
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedComparison struct {
	RequestID       string    `json:"request_id"`
	ImageID         uint      `json:"image_id"`
	Method          string    `json:"comparison_method"`
	Match           bool      `json:"is_same"`
	Score           float64   `json:"similarity_score"`
	HammingDistance int       `json:"hamming_distance"`
	Note            string    `json:"note"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewImageUseCase constructs a new use case instance.
func NewImageUseCase(repo ImageRepository, cache Cache, comparer imagecompare.Comparer, logger *zap.Logger) *ImageUseCase {
	return &ImageUseCase{
		repo:           repo,
		cache:          cache,
		comparer:       comparer,
		logger:         logger.Named("image_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// UploadImage persists an uploaded image and returns the stored record with
// its assigned id.
func (uc *ImageUseCase) UploadImage(ctx context.Context, name, filename string, data []byte) (*repository.Image, error) {
	hash := sha256.Sum256(data)
	img := &repository.Image{
		Name:      name,
		Filename:  filename,
		Data:      data,
		SizeBytes: int64(len(data)),
		SHA256:    hex.EncodeToString(hash[:]),
		CreatedAt: time.Now().UTC(),
	}

	if err := uc.repo.SaveImage(ctx, img); err != nil {
		wrapped := logging.NewOperationError("usecase.upload_image", "", err)
		uc.logger.Error("failed to persist uploaded image", zap.Error(wrapped))
		return nil, wrapped
	}

	uc.logger.Info("image stored",
		zap.Uint("image_id", img.ID),
		zap.String("filename", img.Filename),
		zap.Int64("size_bytes", img.SizeBytes))
	return img, nil
}

// CompareImage evaluates submitted bytes against the stored image, records an
// audit entry, and caches the verdict. The same (image, upload, method)
// triple within the cache window is answered without recomputation.
func (uc *ImageUseCase) CompareImage(ctx context.Context, imageID uint, method imagecompare.Method, data []byte) (string, *imagecompare.Result, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.compare_image", requestID)

	uploadHash := sha256.Sum256(data)
	cacheKey := fmt.Sprintf("compare:%d:%s:%s", imageID, hex.EncodeToString(uploadHash[:]), method)

	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.comparison", cacheKey); err == nil {
		var payload cachedComparison
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached comparison", zap.Error(err))
		} else {
			// Cached answers still get their own audit entry so every
			// request_id handed out resolves to a comparison_logs row and
			// repeat comparisons keep counting in the metrics.
			log := &repository.ComparisonLog{
				RequestID:       requestID,
				ImageID:         imageID,
				Method:          payload.Method,
				Match:           payload.Match,
				Score:           payload.Score,
				HammingDistance: payload.HammingDistance,
				CreatedAt:       time.Now().UTC(),
			}
			if err := uc.repo.SaveComparison(ctx, log); err != nil {
				wrapped := logging.NewOperationError("usecase.save_comparison", requestID, err)
				opLogger.Error("failed to persist comparison log", zap.Error(wrapped))
				return "", nil, wrapped
			}
			opLogger.Info("comparison served from cache", zap.Uint("image_id", imageID))
			return requestID, &imagecompare.Result{
				Method:          imagecompare.Method(payload.Method),
				Match:           payload.Match,
				Score:           payload.Score,
				HammingDistance: payload.HammingDistance,
				Note:            payload.Note,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read comparison cache", zap.Error(err))
	}

	stored, err := uc.repo.FindImageByID(ctx, imageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrImageNotFound
		}
		wrapped := logging.NewOperationError("usecase.load_stored_image", requestID, err)
		opLogger.Error("failed to load stored image", zap.Error(wrapped))
		return "", nil, wrapped
	}

	start := time.Now()
	result, err := uc.comparer.Compare(ctx, method, stored.Data, data)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.compare", requestID, err)
		opLogger.Error("comparison failed", zap.Error(wrapped))
		return "", nil, wrapped
	}
	durationMs := float64(time.Since(start).Microseconds()) / 1000

	log := &repository.ComparisonLog{
		RequestID:       requestID,
		ImageID:         imageID,
		Method:          string(result.Method),
		Match:           result.Match,
		Score:           result.Score,
		HammingDistance: result.HammingDistance,
		DurationMs:      durationMs,
		CreatedAt:       time.Now().UTC(),
	}
	if err := uc.repo.SaveComparison(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_comparison", requestID, err)
		opLogger.Error("failed to persist comparison log", zap.Error(wrapped))
		return "", nil, wrapped
	}

	cached := cachedComparison{
		RequestID:       requestID,
		ImageID:         imageID,
		Method:          string(result.Method),
		Match:           result.Match,
		Score:           result.Score,
		HammingDistance: result.HammingDistance,
		Note:            result.Note,
		CreatedAt:       log.CreatedAt,
	}
	serialized, err := json.Marshal(cached)
	if err != nil {
		opLogger.Error("failed to serialize comparison result", zap.Error(err))
		return "", nil, err
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.comparison", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Error("failed to cache comparison result", zap.Error(err))
		return "", nil, err
	}

	return requestID, result, nil
}

// GetImageMeta retrieves stored-image metadata without its blob.
func (uc *ImageUseCase) GetImageMeta(ctx context.Context, imageID uint) (*repository.Image, error) {
	img, err := uc.repo.FindImageMetaByID(ctx, imageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrImageNotFound
		}
		return nil, err
	}
	return img, nil
}

func (uc *ImageUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
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

		// A cache miss is an answer, not a failure worth logging or retrying.
		if errors.Is(err, redis.Nil) {
			return logging.NewOperationError(operation, requestID, err)
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *ImageUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
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
