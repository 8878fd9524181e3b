package guardian

import (
	internalmetrics "github.com/MrEthical07/guardian/internal/metrics"
)

// MetricID identifies a counter or latency histogram.
type MetricID = internalmetrics.MetricID

const (
	MetricLoginSuccess             = internalmetrics.MetricLoginSuccess
	MetricLoginFailure             = internalmetrics.MetricLoginFailure
	MetricLoginRateLimited         = internalmetrics.MetricLoginRateLimited
	MetricAccountLockedOut         = internalmetrics.MetricAccountLockedOut
	MetricRefreshSuccess           = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure           = internalmetrics.MetricRefreshFailure
	MetricReplayDetected           = internalmetrics.MetricReplayDetected
	MetricSessionCreated           = internalmetrics.MetricSessionCreated
	MetricSessionRevoked           = internalmetrics.MetricSessionRevoked
	MetricLogout                   = internalmetrics.MetricLogout
	MetricLogoutAll                = internalmetrics.MetricLogoutAll
	MetricRegisterSuccess          = internalmetrics.MetricRegisterSuccess
	MetricRegisterDuplicate        = internalmetrics.MetricRegisterDuplicate
	MetricVerificationRequest      = internalmetrics.MetricVerificationRequest
	MetricVerificationSuccess      = internalmetrics.MetricVerificationSuccess
	MetricVerificationFailure      = internalmetrics.MetricVerificationFailure
	MetricAccountSuspended         = internalmetrics.MetricAccountSuspended
	MetricAccountReinstated        = internalmetrics.MetricAccountReinstated
	MetricAccountUnlocked          = internalmetrics.MetricAccountUnlocked
	MetricPasswordChangeSuccess    = internalmetrics.MetricPasswordChangeSuccess
	MetricPasswordChangeInvalidOld = internalmetrics.MetricPasswordChangeInvalidOld
	MetricPasswordRehash           = internalmetrics.MetricPasswordRehash
	MetricAuthzAllow               = internalmetrics.MetricAuthzAllow
	MetricAuthzDeny                = internalmetrics.MetricAuthzDeny
	MetricAuthzNotFound            = internalmetrics.MetricAuthzNotFound
	MetricDependencyFailure        = internalmetrics.MetricDependencyFailure
	MetricVerifyAccessLatency      = internalmetrics.MetricVerifyAccessLatency
	MetricAuthorizeLatency         = internalmetrics.MetricAuthorizeLatency
)

// Metrics holds atomic counters and optional latency histograms.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a Metrics instance. When cfg.Enabled is false every
// operation is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
