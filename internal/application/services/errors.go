package services

import "errors"

var (
	// ErrSyncInProgress is returned when a full sync is requested while one is running
	ErrSyncInProgress = errors.New("full sync already in progress")

	// ErrJobNotFound is returned when a job is not in the scheduler history
	ErrJobNotFound = errors.New("sync job not found")

	// ErrSchedulerNotRunning is returned when a job is triggered on a stopped scheduler
	ErrSchedulerNotRunning = errors.New("sync scheduler is not running")

	// ErrInvalidConfig is returned when the scheduler configuration is invalid
	ErrInvalidConfig = errors.New("invalid sync scheduler configuration")
)
