package core

import "errors"

// Error kinds surfaced to clients. Callers wrap them with detail using %w and match
// with errors.Is.
var (
	ErrInvalidBank         = errors.New("invalid bank")
	ErrUpdateInProgress    = errors.New("update in progress")
	ErrInvalidTarget       = errors.New("invalid target")
	ErrBankBusy            = errors.New("bank busy")
	ErrBankNotReady        = errors.New("bank not ready")
	ErrDownloadFailed      = errors.New("download failed")
	ErrVerificationFailed  = errors.New("verification failed")
	ErrExtractionFailed    = errors.New("extraction failed")
	ErrUnknownCommand      = errors.New("unknown command")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrCommandNotPermitted = errors.New("command not permitted")
)
