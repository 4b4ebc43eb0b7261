package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrNotArchived      = errors.New("no archived snapshot available")    // Expected outcome, never fatal
	ErrFetchFailed      = errors.New("fetch failed")                      // Negative result, cached permanently
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")            // Wrapped by ErrFetchFailed
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")            // Wrapped by ErrFetchFailed
	ErrOtherHTTPError   = errors.New("other HTTP error (non-2xx)")         // Wrapped by ErrFetchFailed
	ErrMaxDepthExceeded = errors.New("maximum album depth exceeded")
	ErrCycleDetected    = errors.New("album already on the current path")
	ErrParsing          = errors.New("parsing error")    // Wraps specific parsing error (HTML, URL, JSON, date)
	ErrFilesystem       = errors.New("filesystem error") // Wraps os errors
	ErrDatabase         = errors.New("database error")   // Wraps badger errors
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrConfigValidation = errors.New("configuration validation error")
)

// WrapErrorf annotates err with a formatted message, keeping it matchable with errors.Is.
// Returns nil when err is nil.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// IsSkippable reports whether err is an expected "resource unavailable" outcome that
// callers should skip over rather than abort on.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrNotArchived) || errors.Is(err, ErrFetchFailed)
}

// CategorizeError maps an error to a predefined category string for logging and the crawl ledger.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrNotArchived):
		return "Archive_NotArchived"
	case errors.Is(err, ErrFetchFailed):
		switch {
		case errors.Is(err, ErrClientHTTPError):
			errMsg := err.Error()
			if strings.Contains(errMsg, " 404 ") {
				return "Fetch_HTTP_404"
			}
			if strings.Contains(errMsg, " 403 ") {
				return "Fetch_HTTP_403"
			}
			if strings.Contains(errMsg, " 429 ") {
				return "Fetch_HTTP_429"
			}
			return "Fetch_HTTP_4xx"
		case errors.Is(err, ErrServerHTTPError):
			return "Fetch_HTTP_5xx"
		case errors.Is(err, ErrOtherHTTPError):
			return "Fetch_HTTP_OtherStatus"
		}
		return "Fetch_Network"
	case errors.Is(err, ErrClientHTTPError):
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrMaxDepthExceeded):
		return "Policy_MaxDepth"
	case errors.Is(err, ErrCycleDetected):
		return "Policy_Cycle"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "JSON") {
			return "Content_ParsingJSON"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "timeout") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "reset by peer") {
		return "Network_ConnectionReset"
	}

	return "Unknown"
}
