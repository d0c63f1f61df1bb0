package vt

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a VirusTotal failure. Callers branch on the kind rather
// than on message text.
type Kind string

const (
	KindAPIKey             Kind = "api_key"
	KindAuthentication     Kind = "authentication"
	KindPermission         Kind = "permission"
	KindNotFound           Kind = "not_found"
	KindRateLimit          Kind = "rate_limit"
	KindServiceUnavailable Kind = "service_unavailable"
	KindNetwork            Kind = "network"
	KindTimeout            Kind = "timeout"
	KindAnalysis           Kind = "analysis"
	KindScan               Kind = "scan"
	KindConfiguration      Kind = "configuration"
)

// Error is the single error shape for the scanner.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("virustotal %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("virustotal %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err, or "" when err is not a
// scanner error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// classifyAPIError maps a VirusTotal API error onto a kind. Matching is by
// lowercase substring on the error code and message, credentials first.
func classifyAPIError(status int, code, message string) *Error {
	lc := strings.ToLower(code)
	lm := strings.ToLower(message)
	switch {
	case strings.Contains(lc, "wrongcredentialserror") || strings.Contains(lm, "wrong api key"):
		return &Error{Kind: KindAPIKey, Message: "invalid or expired API key"}
	case strings.Contains(lm, "not found") || strings.Contains(lc, "notfounderror"):
		return &Error{Kind: KindNotFound, Message: "resource not found"}
	case strings.Contains(lm, "quota exceeded") || strings.Contains(lm, "rate limit") || strings.Contains(lc, "quotaexceedederror"):
		return &Error{Kind: KindRateLimit, Message: "API rate limit exceeded"}
	case strings.Contains(lm, "forbidden") || strings.Contains(lc, "forbiddenerror"):
		return &Error{Kind: KindPermission, Message: "access denied to resource"}
	case strings.Contains(lm, "unauthorized") || strings.Contains(lc, "authenticationrequirederror"):
		return &Error{Kind: KindAuthentication, Message: "authentication failed"}
	case status == http.StatusServiceUnavailable || strings.Contains(lm, "service unavailable") || strings.Contains(lm, "503"):
		return &Error{Kind: KindServiceUnavailable, Message: "VirusTotal service temporarily unavailable"}
	default:
		msg := message
		if msg == "" {
			msg = http.StatusText(status)
		}
		if code != "" {
			msg = code + ": " + msg
		}
		return &Error{Kind: KindScan, Message: "interacting with API: " + msg}
	}
}
