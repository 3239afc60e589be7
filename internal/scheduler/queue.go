package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	"github.com/smallbiznis/tally/pkg/db"
	"gorm.io/gorm"
)

// CycleSchedule is a platform-scoped due-job row, one per subscription.
// NextRunAt anchors one period after activation; a tick claims a firing
// by bumping NextRunAt with a conditional UPDATE, giving at-least-once
// semantics across instances.
type CycleSchedule struct {
	ID             snowflake.ID                 `gorm:"primaryKey"`
	SubscriptionID snowflake.ID                 `gorm:"not null;uniqueIndex"`
	BusinessID     snowflake.ID                 `gorm:"not null;index"`
	Frequency      subscriptiondomain.Frequency `gorm:"type:text;not null"`
	Timezone       string                       `gorm:"type:text"`
	NextRunAt      time.Time                    `gorm:"not null;index"`
	CreatedAt      time.Time                    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time                    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CycleSchedule) TableName() string { return "cycle_schedules" }

// ScheduleCycle implements the subscription ledger's CycleScheduler. The
// first cycle fires one period after scheduling; a repeat call for the
// same subscription is a no-op.
func (s *Scheduler) ScheduleCycle(ctx context.Context, sub *subscriptiondomain.BusinessSubscription) error {
	now := s.clock.Now()
	nextRunAt, err := sub.Frequency.Period(now)
	if err != nil {
		return err
	}

	schedule := CycleSchedule{
		ID:             s.genID.Generate(),
		SubscriptionID: sub.ID,
		BusinessID:     sub.BusinessID,
		Frequency:      sub.Frequency,
		Timezone:       sub.Timezone,
		NextRunAt:      nextRunAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&schedule).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Scheduler) fetchDueSchedules(ctx context.Context, now time.Time, limit int) ([]CycleSchedule, error) {
	var schedules []CycleSchedule
	err := s.db.WithContext(ctx).
		Where("next_run_at <= ?", now).
		Order("next_run_at").
		Limit(limit).
		Find(&schedules).Error
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

// claimSchedule advances NextRunAt one period, but only when the row
// still carries the value this tick observed. Losing the race means
// another instance owns the firing.
func (s *Scheduler) claimSchedule(ctx context.Context, tx *gorm.DB, schedule CycleSchedule) (bool, error) {
	next, err := schedule.Frequency.Period(schedule.NextRunAt)
	if err != nil {
		return false, err
	}

	result := tx.WithContext(ctx).Exec(
		`UPDATE cycle_schedules SET next_run_at = ?, updated_at = ? WHERE id = ? AND next_run_at = ?`,
		next,
		s.clock.Now(),
		schedule.ID,
		schedule.NextRunAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
