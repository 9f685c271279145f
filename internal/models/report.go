package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the classification of one account in a reconciliation run
type Status string

const (
	StatusOK                  Status = "ok"
	StatusCorrected           Status = "corrected"
	StatusCorrectedAndFlagged Status = "corrected_and_flagged"
	StatusMajorDiscrepancy    Status = "major_discrepancy"
	StatusSkipped             Status = "skipped"
	StatusError               Status = "error"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusCorrected, StatusCorrectedAndFlagged,
		StatusMajorDiscrepancy, StatusSkipped, StatusError:
		return true
	}
	return false
}

// Corrective reports whether the status overwrote the account record
func (s Status) Corrective() bool {
	return s == StatusCorrected || s == StatusCorrectedAndFlagged
}

// SkipReasonNotFoundOnChain marks an address the ledger has never seen
const SkipReasonNotFoundOnChain = "account_not_found_on_chain"

// Correction records the account balance before and after an overwrite
type Correction struct {
	OldBalance decimal.Decimal `json:"old_balance"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// Outcome is the result of reconciling one account
type Outcome struct {
	Address             string           `json:"address"`
	OwningUserID        *string          `json:"owning_user_id,omitempty"`
	InternalBalance     decimal.Decimal  `json:"internal_balance"`
	ChainBalance        *decimal.Decimal `json:"chain_balance,omitempty"` // nil when skipped
	Discrepancy         decimal.Decimal  `json:"discrepancy"`
	AbsoluteDiscrepancy decimal.Decimal  `json:"absolute_discrepancy"`
	Status              Status           `json:"status"`
	ActionTaken         string           `json:"action_taken,omitempty"`
	Correction          *Correction      `json:"correction,omitempty"`
	SkipReason          string           `json:"skip_reason,omitempty"`
	ErrorMessage        string           `json:"error_message,omitempty"`
}

// ErrorDetail records a failure that produced no outcome
type ErrorDetail struct {
	Address      string `json:"address"`
	ErrorMessage string `json:"error_message"`
}

// Trigger identifies what started a run
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerCLI       Trigger = "cli"
)

// ReportSummary is a report without its per-account lists
type ReportSummary struct {
	ID                    string    `json:"id"`
	Trigger               Trigger   `json:"trigger"`
	StartedAt             time.Time `json:"started_at"`
	FinishedAt            time.Time `json:"finished_at"`
	DurationMs            int64     `json:"duration_ms"`
	TotalAccounts         int       `json:"total_accounts"`
	OkCount               int       `json:"ok_count"`
	CorrectedCount        int       `json:"corrected_count"`
	FlaggedCount          int       `json:"flagged_count"`
	MajorCount            int       `json:"major_count"`
	SkippedCount          int       `json:"skipped_count"`
	ErrorCount            int       `json:"error_count"`
	AppBalanceCorrections int       `json:"app_balance_corrections"`
}

// Report is the write-once record of a reconciliation run
type Report struct {
	ReportSummary
	Details []Outcome     `json:"details"`
	Errors  []ErrorDetail `json:"errors"`
}

// Record adds an outcome to the report and bumps the matching counter
func (r *Report) Record(outcome Outcome) {
	switch outcome.Status {
	case StatusOK:
		r.OkCount++
	case StatusCorrected:
		r.CorrectedCount++
	case StatusCorrectedAndFlagged:
		r.FlaggedCount++
	case StatusMajorDiscrepancy:
		r.MajorCount++
	case StatusSkipped:
		r.SkippedCount++
	case StatusError:
		r.ErrorCount++
	}
	r.Details = append(r.Details, outcome)
}

// RecordError adds a failure that has no outcome
func (r *Report) RecordError(address string, err error) {
	r.ErrorCount++
	r.Errors = append(r.Errors, ErrorDetail{Address: address, ErrorMessage: err.Error()})
}
