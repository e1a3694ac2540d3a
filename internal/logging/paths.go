package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.panoptigo/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".panoptigo", "logs")
	}
	return filepath.Join(home, ".panoptigo", "logs")
}

// DefaultLogPath returns the default server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "gatewayd.log")
}

// InferenceLogPath returns the inference endpoint's log path, for gateways
// that supervise a local inference process rather than calling a remote one.
func InferenceLogPath() string {
	return filepath.Join(DefaultLogDir(), "inference-server.log")
}

// LogSource represents the source of logs to view.
type LogSource string

const (
	// LogSourceGateway is the gateway daemon logs (default).
	LogSourceGateway LogSource = "gateway"
	// LogSourceInference is the local inference server logs.
	LogSourceInference LogSource = "inference"
	// LogSourceAll combines all log sources.
	LogSourceAll LogSource = "all"
)

// FindLogFile attempts to find the log file for viewing.
// Priority:
// 1. Explicit path (if provided)
// 2. ~/.panoptigo/logs/gatewayd.log (global)
//
// Returns an error if no log file is found.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	globalPath := DefaultLogPath()
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", fmt.Errorf("no log file found. Gateway may not have run with --debug yet.\nExpected at: %s", globalPath)
}

// FindLogFileBySource finds log files based on the source type.
// Returns a list of log file paths that exist.
func FindLogFileBySource(source LogSource, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var paths []string
	var checked []string

	switch source {
	case LogSourceGateway:
		gatewayPath := DefaultLogPath()
		checked = append(checked, gatewayPath)
		if _, err := os.Stat(gatewayPath); err == nil {
			paths = append(paths, gatewayPath)
		}

	case LogSourceInference:
		inferencePath := InferenceLogPath()
		checked = append(checked, inferencePath)
		if _, err := os.Stat(inferencePath); err == nil {
			paths = append(paths, inferencePath)
		}

	case LogSourceAll:
		gatewayPath := DefaultLogPath()
		inferencePath := InferenceLogPath()
		checked = append(checked, gatewayPath, inferencePath)

		if _, err := os.Stat(gatewayPath); err == nil {
			paths = append(paths, gatewayPath)
		}
		if _, err := os.Stat(inferencePath); err == nil {
			paths = append(paths, inferencePath)
		}

	default:
		return nil, fmt.Errorf("unknown log source: %s (use: gateway, inference, all)", source)
	}

	if len(paths) == 0 {
		hint := getLogHint(source)
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\n%s", source, checked, hint)
	}

	return paths, nil
}

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) LogSource {
	switch s {
	case "inference":
		return LogSourceInference
	case "all":
		return LogSourceAll
	default:
		return LogSourceGateway
	}
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}

// getLogHint returns a helpful message on how to generate logs for the given source.
func getLogHint(source LogSource) string {
	switch source {
	case LogSourceGateway:
		return "To generate gateway logs:\n  gatewayd --debug serve"
	case LogSourceInference:
		return "To generate inference server logs, start the configured inference endpoint with its own logging enabled."
	case LogSourceAll:
		return "To generate logs:\n  Gateway:   gatewayd --debug serve\n  Inference: start the configured inference endpoint"
	default:
		return ""
	}
}
