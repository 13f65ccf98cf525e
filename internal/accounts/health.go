package accounts

// HealthStatus summarises how an account's recent scans went.
type HealthStatus string

const (
	// HealthOK means the last fetch succeeded.
	HealthOK HealthStatus = "ok"

	// HealthDegraded means the last fetch failed but the account is still
	// scheduled.
	HealthDegraded HealthStatus = "degraded"

	// HealthNeedsAttention means authentication has failed on enough
	// consecutive cycles that the account is no longer scheduled. It
	// needs to be reconnected and resumed.
	HealthNeedsAttention HealthStatus = "needs_attention"

	// HealthPaused means the operator paused the account.
	HealthPaused HealthStatus = "paused"
)

// DefaultAuthFailureThreshold is how many consecutive auth failures move an
// account to HealthNeedsAttention.
const DefaultAuthFailureThreshold = 3

// HealthConfig holds the thresholds used by ComputeHealth.
type HealthConfig struct {
	// AuthFailureThreshold is the number of consecutive auth failures
	// after which an account needs attention.
	AuthFailureThreshold int
}

// DefaultHealthConfig returns the default health thresholds.
func DefaultHealthConfig() *HealthConfig {
	return &HealthConfig{
		AuthFailureThreshold: DefaultAuthFailureThreshold,
	}
}

// ComputeHealth derives the account's health from its stored counters.
func (c *HealthConfig) ComputeHealth(a *Account) HealthStatus {
	switch {
	case !a.Active:
		return HealthPaused

	case c.NeedsAttention(a.ConsecutiveAuthFailures):
		return HealthNeedsAttention

	case a.LastError != "":
		return HealthDegraded

	default:
		return HealthOK
	}
}

// NeedsAttention reports whether the given consecutive auth failure count
// crosses the threshold.
func (c *HealthConfig) NeedsAttention(consecutiveAuthFailures int) bool {
	return c.AuthFailureThreshold > 0 &&
		consecutiveAuthFailures >= c.AuthFailureThreshold
}

// Schedulable reports whether the scheduler should run cycles for a.
func (c *HealthConfig) Schedulable(a *Account) bool {
	return a.Active && !c.NeedsAttention(a.ConsecutiveAuthFailures)
}
