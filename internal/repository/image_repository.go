package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suriyathilakam/image-comparison-service/internal/logging"
)

// ImageRepository provides persistence for stored images and comparison logs.
type ImageRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewImageRepository creates a new repository instance.
func NewImageRepository(db *gorm.DB, logger *zap.Logger) *ImageRepository {
	return &ImageRepository{
		db:             db,
		logger:         logger.Named("image_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *ImageRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Image{}, &ComparisonLog{})
}

// SaveImage persists an uploaded image and fills in its assigned ID.
func (r *ImageRepository) SaveImage(ctx context.Context, img *Image) error {
	return r.executeWithRetry(ctx, "repository.save_image", "", func() error {
		return r.db.WithContext(ctx).Create(img).Error
	})
}

// FindImageByID loads a stored image including its blob.
func (r *ImageRepository) FindImageByID(ctx context.Context, id uint) (*Image, error) {
	var img Image
	err := r.executeWithRetry(ctx, "repository.find_image", "", func() error {
		return r.db.WithContext(ctx).First(&img, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// FindImageMetaByID loads a stored image's metadata without the blob column.
func (r *ImageRepository) FindImageMetaByID(ctx context.Context, id uint) (*Image, error) {
	var img Image
	err := r.executeWithRetry(ctx, "repository.find_image_meta", "", func() error {
		return r.db.WithContext(ctx).
			Select("id", "name", "filename", "size_bytes", "sha256", "created_at").
			First(&img, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// SaveComparison persists one comparison audit entry.
func (r *ImageRepository) SaveComparison(ctx context.Context, log *ComparisonLog) error {
	return r.executeWithRetry(ctx, "repository.save_comparison", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// MetricsAggregation is the raw aggregate over comparison logs.
type MetricsAggregation struct {
	TotalCount        int64
	MatchCount        int64
	AverageScore      float64
	AverageDurationMs float64
}

// AggregateMetrics summarizes the comparison audit log in a single query.
func (r *ImageRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&ComparisonLog{}).
			Select(
				"COUNT(*) AS total_count",
				"COALESCE(SUM(CASE WHEN is_match THEN 1 ELSE 0 END), 0) AS match_count",
				"COALESCE(AVG(score), 0) AS average_score",
				"COALESCE(AVG(duration_ms), 0) AS average_duration_ms",
			).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// executeWithRetry runs fn with bounded exponential backoff, retrying only
// transient failures. The returned error is always an OperationError.
func (r *ImageRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
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
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
