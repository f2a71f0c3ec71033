package ftpd

import "time"

// MetricsCollector is an optional interface for observing server activity.
// Implementations should be non-blocking; the server checks for a nil
// collector before calling any method.
type MetricsCollector interface {
	// RecordTransfer records one successfully completed RETR/STOR/APPE
	// transfer; failed transfers are not recorded.
	RecordTransfer(operation string, bytes int64, duration time.Duration)

	// RecordConnection records an accepted or rejected control connection.
	RecordConnection(accepted bool, reason string)

	// RecordAuthentication records an authentication attempt.
	RecordAuthentication(success bool, user string)
}
