package model

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrMalformedRecord marks an input record that was rejected.
	ErrMalformedRecord = eris.New("malformed record")

	// ErrNoValidRecords is returned when every record of a table was rejected.
	ErrNoValidRecords = eris.New("no valid records")

	// ErrNoEligibleInstruments is returned when every tier selection is empty.
	ErrNoEligibleInstruments = eris.New("no eligible instruments")

	// ErrInvalidAllocationSum signals a broken sum invariant. It is a bug in
	// the allocation deriver or the composer, never a data problem.
	ErrInvalidAllocationSum = eris.New("invalid allocation sum")
)

// WarningKind classifies a recovered data-quality issue.
type WarningKind string

const (
	WarningMalformedRecord        WarningKind = "malformed_record"
	WarningDegenerateDistribution WarningKind = "degenerate_distribution"
	WarningEmptyTierSelection     WarningKind = "empty_tier_selection"
	WarningMissingMetric          WarningKind = "missing_metric"
)

// Warning records a data-quality issue that was handled by a fallback policy.
type Warning struct {
	Kind    WarningKind `json:"kind" yaml:"kind"`
	Subject string      `json:"subject,omitempty" yaml:"subject,omitempty"`
	Message string      `json:"message" yaml:"message"`
}

func (w Warning) String() string {
	if w.Subject == "" {
		return fmt.Sprintf("%s: %s", w.Kind, w.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", w.Kind, w.Subject, w.Message)
}

// RecordError describes why a single record was rejected.
type RecordError struct {
	RecordID string // may be empty when the id itself is missing
	Row      int    // 1-based data row, 0 when unknown
	Field    string
	Reason   string
}

func (e *RecordError) Error() string {
	subject := e.RecordID
	if subject == "" && e.Row > 0 {
		subject = fmt.Sprintf("row %d", e.Row)
	}
	if e.Field != "" {
		return fmt.Sprintf("malformed record %s: %s: %s", subject, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed record %s: %s", subject, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedRecord.
func (e *RecordError) Unwrap() error {
	return ErrMalformedRecord
}

// Warning converts the rejection into an output warning.
func (e *RecordError) Warning() Warning {
	subject := e.RecordID
	if subject == "" && e.Row > 0 {
		subject = fmt.Sprintf("row %d", e.Row)
	}
	msg := e.Reason
	if e.Field != "" {
		msg = e.Field + ": " + e.Reason
	}
	return Warning{Kind: WarningMalformedRecord, Subject: subject, Message: msg}
}
