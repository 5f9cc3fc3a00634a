package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrNotImplemented  ErrorCode = "not_implemented"
	ErrUnavailable     ErrorCode = "service_unavailable"

	// Configuration errors
	ErrInvalidConfig ErrorCode = "invalid_configuration"
	ErrMissingConfig ErrorCode = "missing_configuration"
	ErrBindFlags     ErrorCode = "bind_flags_failed"
	ErrReadConfig    ErrorCode = "read_config_failed"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Resource errors
	ErrResourceNotFound ErrorCode = "resource_not_found"

	// Outbound call taxonomy. Transport and auth failures escalate to
	// connectivity alerting; parse failures are treated as condition absent;
	// provider failures are confined to a single notification channel.
	ErrTransport ErrorCode = "transport_failure"
	ErrAuth      ErrorCode = "auth_failure"
	ErrParse     ErrorCode = "parse_failure"
	ErrProvider  ErrorCode = "provider_failure"
	ErrTimeout   ErrorCode = "operation_timeout"

	// Operation errors
	ErrOperationFailed ErrorCode = "operation_failed"
	ErrMainLoop        ErrorCode = "main_loop_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrInvalidArgument:  "Invalid argument provided",
	ErrNotImplemented:   "Operation not implemented",
	ErrUnavailable:      "Service unavailable",
	ErrInvalidConfig:    "Invalid configuration",
	ErrMissingConfig:    "Missing configuration",
	ErrBindFlags:        "Failed to bind flags",
	ErrReadConfig:       "Failed to read configuration",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrInitFailed:       "Initialization failed",
	ErrShutdownFailed:   "Shutdown failed",
	ErrResourceNotFound: "Resource not found",
	ErrTransport:        "Transport failure",
	ErrAuth:             "Authentication failure",
	ErrParse:            "Failed to parse response",
	ErrProvider:         "Notification provider failure",
	ErrTimeout:          "Operation timed out",
	ErrOperationFailed:  "Operation failed",
	ErrMainLoop:         "Error in main loop",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}

// IsTransport reports whether err is an unreachable/timeout/refused failure.
func IsTransport(err error) bool {
	return HasCode(err, ErrTransport) || HasCode(err, ErrTimeout)
}

// IsAuth reports whether err is a credential failure.
func IsAuth(err error) bool {
	return HasCode(err, ErrAuth)
}
