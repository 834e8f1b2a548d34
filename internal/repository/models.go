package repository

import "time"

// Image is a stored upload. The blob itself lives in the row, alongside the
// metadata needed to answer lookups without rereading it.
type Image struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"column:name;size:255"`
	Filename  string    `gorm:"column:filename;size:255"`
	Data      []byte    `gorm:"column:image_data;type:bytea"`
	SizeBytes int64     `gorm:"column:size_bytes"`
	SHA256    string    `gorm:"column:sha256;size:64;index"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (Image) TableName() string {
	return "images"
}

// ComparisonLog records one comparison request against a stored image.
type ComparisonLog struct {
	ID              uint      `gorm:"primaryKey"`
	RequestID       string    `gorm:"column:request_id;uniqueIndex;size:64"`
	ImageID         uint      `gorm:"column:image_id;index"`
	Method          string    `gorm:"column:method;size:32"`
	Match           bool      `gorm:"column:is_match"`
	Score           float64   `gorm:"column:score"`
	HammingDistance int       `gorm:"column:hamming_distance"`
	DurationMs      float64   `gorm:"column:duration_ms"`
	CreatedAt       time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (ComparisonLog) TableName() string {
	return "comparison_logs"
}
