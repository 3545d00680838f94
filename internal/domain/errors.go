package domain

import (
	"errors"
	"fmt"
)

// Record kinds reported in InputError and Diagnostic.
const (
	RecordClaim      = "claim"
	RecordHistorical = "historical"
	RecordSchedule   = "schedule"
)

// InputError describes a malformed individual record. The record is skipped
// and the run continues.
type InputError struct {
	Index    int    `json:"index"`
	Kind     string `json:"kind"`
	RecordID string `json:"recordId,omitempty"`
	Reason   string `json:"reason"`
}

func (e *InputError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("invalid %s record %q at index %d: %s", e.Kind, e.RecordID, e.Index, e.Reason)
	}
	return fmt.Sprintf("invalid %s record at index %d: %s", e.Kind, e.Index, e.Reason)
}

// Diagnostic converts the error into a report diagnostic.
func (e *InputError) Diagnostic() Diagnostic {
	return Diagnostic{
		Index:    e.Index,
		Kind:     e.Kind,
		RecordID: e.RecordID,
		Severity: string(IssueWarning),
		Message:  e.Reason,
	}
}

// ConfigError reports a missing or inconsistent catalog, rule or engine
// setting. It is fatal and surfaces before any claim is processed.
type ConfigError struct {
	Component string
	Field     string
	Reason    string
	Err       error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("%s config", e.Component)
	if e.Field != "" {
		msg += " " + e.Field
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func asInputError(err error, target **InputError) bool {
	return errors.As(err, target)
}
