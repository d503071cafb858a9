package main

import "time"

const (
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultSLAThreshold     = 24 * time.Hour
	DefaultSLAInterval      = 5 * time.Minute
	DefaultSchedulerResync  = time.Minute
	DefaultRecoveryInterval = 30 * time.Second
	DefaultRecoveryGrace    = time.Minute
)
