// Package verification talks to the remote professional-license verification
// service: submitting requests, reading their status and polling them to a
// terminal state.
package verification

import "time"

// Status is the lifecycle state of a verification record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusVerifying Status = "verifying"
	StatusVerified  Status = "verified"
	StatusRejected  Status = "rejected"
)

// IsTerminal reports whether no further transition can happen.
func (s Status) IsTerminal() bool { return s == StatusVerified || s == StatusRejected }

// Record is the service's view of one verification.
type Record struct {
	ID              string     `json:"id"`
	Status          Status     `json:"status"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

// Request is the submission payload. It deliberately has no caller
// identifier: the service derives the principal from the bearer credential.
type Request struct {
	LicenseNumber string `json:"license_number"`
	LicenseType   string `json:"license_type,omitempty"`
	IssuingState  string `json:"issuing_state,omitempty"`
	ExpiresOn     string `json:"expires_on,omitempty"`
	FullName      string `json:"full_name,omitempty"`
	BusinessName  string `json:"business_name,omitempty"`
}

// SubmitResult is returned by a successful submission.
type SubmitResult struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}
