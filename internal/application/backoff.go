package application

import (
	"time"
)

// Retry budgets for the two stages. The schedule is tuned for network
// propagation delay, not aggressive hammering.
const (
	MaxSendAttempts    = 60
	MaxConfirmAttempts = 100

	// ConfirmAlertAttempt is the confirm attempt logged at error level as an
	// alerting threshold, even though retries continue to the budget.
	ConfirmAlertAttempt = 60

	// DeployWaitDelay is the fixed re-delivery delay for a send job waiting
	// on another job's in-progress account deployment.
	DeployWaitDelay = 5 * time.Second
)

// RetryBackoff returns the delay before re-delivering a job that failed on
// the given attempt (1-based): 2s after the first attempt, 10s for attempts
// 2-11, 30s for 12-23, and 60s from there on.
func RetryBackoff(attempt int) time.Duration {
	switch {
	case attempt <= 1:
		return 2 * time.Second
	case attempt <= 11:
		return 10 * time.Second
	case attempt <= 23:
		return 30 * time.Second
	default:
		return 60 * time.Second
	}
}
