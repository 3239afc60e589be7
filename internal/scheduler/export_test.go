package scheduler

import (
	"context"

	"gorm.io/gorm"
)

// Re-exports for the external scheduler_test package, which cannot live
// inside package scheduler without creating an import cycle through
// internal/migration.

const RunLockKeyForTest = runLockKey

func (s *Scheduler) ClaimScheduleForTest(ctx context.Context, tx *gorm.DB, schedule CycleSchedule) (bool, error) {
	return s.claimSchedule(ctx, tx, schedule)
}

func (s *Scheduler) RunOverdueSweepForTest(ctx context.Context) error {
	return s.runOverdueSweep(ctx)
}

func (s *Scheduler) LockerForTest() *Locker { return s.locker }
