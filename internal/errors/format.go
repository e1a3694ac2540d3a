package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForUser returns a user-friendly error message.
// If debug is true, includes additional technical details.
func FormatForUser(err error, debug bool) string {
	if err == nil {
		return ""
	}

	ge, ok := err.(*GatewayError)
	if !ok {
		return err.Error()
	}

	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(ge.Message)
	sb.WriteString("\n")

	if debug {
		sb.WriteString(fmt.Sprintf("\n[%s] kind=%s category=%s", ge.Code, ge.Kind, ge.Category))
		if ge.Cause != nil {
			sb.WriteString(fmt.Sprintf("\ncause: %s", ge.Cause.Error()))
		}
	} else {
		sb.WriteString(fmt.Sprintf("\n[%s]", ge.Code))
	}

	return sb.String()
}

// FormatForCLI formats an error for CLI output.
// Uses a concise format suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ge, ok := err.(*GatewayError)
	if !ok {
		ge = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Error: %s\n", ge.Message))
	sb.WriteString(fmt.Sprintf("  Code: %s\n", ge.Code))

	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Category  string            `json:"category"`
	Kind      string            `json:"kind"`
	Severity  string            `json:"severity"`
	Details   map[string]string `json:"details,omitempty"`
	Cause     string            `json:"cause,omitempty"`
	Retryable bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
// Suitable for machine consumption and structured logging.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	ge, ok := err.(*GatewayError)
	if !ok {
		ge = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:      ge.Code,
		Message:   ge.Message,
		Category:  string(ge.Category),
		Kind:      string(ge.Kind),
		Severity:  string(ge.Severity),
		Details:   ge.Details,
		Retryable: ge.Retryable,
	}

	if ge.Cause != nil {
		je.Cause = ge.Cause.Error()
	}

	return json.Marshal(je)
}

// FormatForLog formats an error for structured logging.
// Returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	ge, ok := err.(*GatewayError)
	if !ok {
		return map[string]any{
			"error": err.Error(),
		}
	}

	result := map[string]any{
		"error_code": ge.Code,
		"message":    ge.Message,
		"category":   string(ge.Category),
		"kind":       string(ge.Kind),
		"severity":   string(ge.Severity),
		"retryable":  ge.Retryable,
	}

	if ge.Cause != nil {
		result["cause"] = ge.Cause.Error()
	}

	for k, v := range ge.Details {
		result["detail_"+k] = v
	}

	return result
}
