package review

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownPreset indicates an unrecognized preset name.
	ErrUnknownPreset = errors.New("review: unknown preset")
	// ErrInvalidConfig indicates a config that fails validation.
	ErrInvalidConfig = errors.New("review: invalid config")
)

// ReviewConfig holds the user-tunable scheduling knobs. BaseIntervals seeds the
// interval sequence of newly created records only; existing records keep the
// sequence they were created with.
type ReviewConfig struct {
	ID                  int64      `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	UUID                string     `gorm:"column:uuid;size:64;not null;uniqueIndex" json:"uuid"`
	UserID              string     `gorm:"column:user_id;size:190;not null;default:'default';uniqueIndex" json:"userId"`
	BaseIntervals       []float64  `gorm:"column:base_intervals;type:text;serializer:json" json:"baseIntervals"`
	DailyReviewTarget   int        `gorm:"column:daily_review_target;not null;default:50" json:"dailyReviewTarget"`
	MaxReviewsPerDay    int        `gorm:"column:max_reviews_per_day;not null;default:100" json:"maxReviewsPerDay"`
	EnableNotifications bool       `gorm:"column:enable_notifications;not null;default:true" json:"enableNotifications"`
	NotificationTime    string     `gorm:"column:notification_time;size:16;not null;default:'09:00'" json:"notificationTime"`
	SyncStatus          SyncStatus `gorm:"column:sync_status;size:32;not null;default:'local_new'" json:"sync_status"`
	LastModified        int64      `gorm:"column:last_modified;not null" json:"last_modified"`
}

// TableName provides the explicit table binding for GORM.
func (ReviewConfig) TableName() string {
	return "review_configs"
}

// DefaultConfig returns the standard scheduling configuration.
func DefaultConfig() ReviewConfig {
	return ReviewConfig{
		UserID:              "default",
		BaseIntervals:       []float64{1, 3, 7, 15, 30, 60},
		DailyReviewTarget:   50,
		MaxReviewsPerDay:    100,
		EnableNotifications: true,
		NotificationTime:    "09:00",
	}
}

// PresetConfig returns a named preset. Presets trade interval density against
// daily volume; "standard" matches DefaultConfig.
func PresetConfig(name string) (ReviewConfig, error) {
	cfg := DefaultConfig()
	switch name {
	case "standard":
	case "beginner":
		cfg.BaseIntervals = []float64{2, 4, 8, 16, 32, 64}
		cfg.DailyReviewTarget = 30
		cfg.MaxReviewsPerDay = 60
	case "intensive":
		cfg.BaseIntervals = []float64{0.5, 2, 5, 12, 25, 50}
		cfg.DailyReviewTarget = 80
		cfg.MaxReviewsPerDay = 150
	case "relaxed":
		cfg.BaseIntervals = []float64{2, 5, 10, 20, 40, 80}
		cfg.DailyReviewTarget = 25
		cfg.MaxReviewsPerDay = 50
	default:
		return ReviewConfig{}, fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}
	return cfg, nil
}

// Validate checks internal consistency of the configuration.
func (c ReviewConfig) Validate() error {
	if len(c.BaseIntervals) == 0 {
		return fmt.Errorf("%w: base intervals empty", ErrInvalidConfig)
	}
	previous := 0.0
	for _, days := range c.BaseIntervals {
		if days <= 0 {
			return fmt.Errorf("%w: non-positive interval %v", ErrInvalidConfig, days)
		}
		if days < previous {
			return fmt.Errorf("%w: intervals must be non-decreasing", ErrInvalidConfig)
		}
		previous = days
	}
	if c.DailyReviewTarget <= 0 {
		return fmt.Errorf("%w: daily review target must be positive", ErrInvalidConfig)
	}
	if c.MaxReviewsPerDay < c.DailyReviewTarget {
		return fmt.Errorf("%w: max reviews per day below daily target", ErrInvalidConfig)
	}
	return nil
}
