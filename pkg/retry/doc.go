// Package retry decides whether a failed download gets another attempt.
//
// A Policy allows retries while a task's retry count is below MaxRetries, so
// MaxRetries of 3 means up to four attempts in total. Retried tasks go back
// into the queue at their original position instead of sleeping in a
// worker; ConstantBackoff and Wait only pace idle workers.
//
//	policy := retry.DefaultPolicy()
//	if policy.ShouldRetry(t.RetryCount, err) {
//	    // requeue
//	}
package retry
