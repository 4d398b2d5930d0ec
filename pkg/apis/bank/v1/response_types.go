package v1

import (
	"errors"
)

// Values of the "status" discriminator.
const (
	StatusCurrentState = "CurrentState"
	StatusStatus       = "Status"
	StatusOk           = "Ok"
	StatusError        = "Error"
)

// NotAvailable is rendered for the running bank's extract time when it was never recorded.
const NotAvailable = "N/A"

// BankState describes both banks from the point of view of the running one.
type BankState struct {
	OurBank string `json:"our_bank"`

	// DesiredBank is null when the next boot stays on the running bank.
	DesiredBank *string `json:"desired_bank"`

	OurVersion string `json:"our_version"`

	// OurExtractTime is RFC3339 or "N/A".
	OurExtractTime string `json:"our_extract_time"`

	OtherVersion string `json:"other_version"`

	// OtherExtractTime is RFC3339, or null when the other bank holds no complete image.
	OtherExtractTime *string `json:"other_extract_time"`
}

// BankStatus extends BankState with the boot history pointers.
type BankStatus struct {
	BankState `json:",inline"`

	LastTriedBank *string `json:"last_tried_bank"`
	LastOKBank    *string `json:"last_ok_bank"`
}

// CurrentStateResponse answers DetectBank.
type CurrentStateResponse struct {
	Status string    `json:"status"`
	State  BankState `json:"state"`
}

// StatusResponse answers GetStatus.
type StatusResponse struct {
	Status string `json:"status"`

	// Progress is the percentage of the running update, null when idle.
	Progress *int `json:"progress"`

	// Phase is the pipeline state (idle, downloading, verifying, extracting, finalizing).
	Phase string `json:"phase,omitempty"`

	// LastError is the failure of the previous update, reported once.
	// +optional
	LastError string `json:"last_error,omitempty"`

	Banks BankStatus `json:"banks"`
}

// DetailResponse is either Ok or Error.
type DetailResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

func NewCurrentState(state BankState) *CurrentStateResponse {
	return &CurrentStateResponse{Status: StatusCurrentState, State: state}
}

func NewStatus(progress *int, phase, lastError string, banks BankStatus) *StatusResponse {
	return &StatusResponse{
		Status:    StatusStatus,
		Progress:  progress,
		Phase:     phase,
		LastError: lastError,
		Banks:     banks,
	}
}

func NewOk(detail string) *DetailResponse {
	return &DetailResponse{Status: StatusOk, Detail: detail}
}

func NewError(detail string) *DetailResponse {
	return &DetailResponse{Status: StatusError, Detail: detail}
}

// Response is the caller-side union of every response variant.
type Response struct {
	Status string `json:"status"`

	// CurrentState
	State *BankState `json:"state,omitempty"`

	// Status
	Progress  *int        `json:"progress,omitempty"`
	Phase     string      `json:"phase,omitempty"`
	LastError string      `json:"last_error,omitempty"`
	Banks     *BankStatus `json:"banks,omitempty"`

	// Ok and Error
	Detail string `json:"detail,omitempty"`
}

// ErrRemote wraps every Error response.
var ErrRemote = errors.New("controller error")

// Err returns a non-nil error for Error responses and for unknown discriminators.
func (r *Response) Err() error {
	switch r.Status {
	case StatusOk, StatusCurrentState, StatusStatus:
		return nil
	case StatusError:
		return &RemoteError{Detail: r.Detail}
	default:
		return &RemoteError{Detail: "unexpected response status " + r.Status}
	}
}

// RemoteError carries the detail of an Error response.
type RemoteError struct {
	Detail string
}

func (e *RemoteError) Error() string { return e.Detail }

func (e *RemoteError) Unwrap() error { return ErrRemote }
