package domain

// DiagnosticKind classifies a degraded or excluded record.
type DiagnosticKind string

const (
	DiagDuplicateStop     DiagnosticKind = "duplicate_stop"
	DiagCoordinateInvalid DiagnosticKind = "coordinate_invalid"
	DiagDistanceAnomaly   DiagnosticKind = "distance_anomaly"
	DiagProviderFallback  DiagnosticKind = "provider_fallback"
	DiagLeaseExpired      DiagnosticKind = "lease_expired"
	DiagIncompleteRoute   DiagnosticKind = "incomplete_route"
	DiagCacheError        DiagnosticKind = "cache_error"
)

// Diagnostic is one entry of the run's quality report.
type Diagnostic struct {
	Kind        DiagnosticKind
	DriverID    string
	Date        string
	Fingerprint string
	Detail      string
	Err         string
}
