package core

import (
	"fmt"
	"time"
)

// BankID identifies one of the two firmware banks.
type BankID string

const (
	BankA BankID = "A"
	BankB BankID = "B"
)

// ParseBankID validates a bank identifier received from the outside world.
func ParseBankID(s string) (BankID, error) {
	switch BankID(s) {
	case BankA, BankB:
		return BankID(s), nil
	}
	return "", fmt.Errorf("%w: %q (must be A or B)", ErrInvalidBank, s)
}

// Valid reports whether b is A or B.
func (b BankID) Valid() bool {
	return b == BankA || b == BankB
}

// Other returns the opposite bank.
func (b BankID) Other() BankID {
	if b == BankA {
		return BankB
	}
	return BankA
}

func (b BankID) String() string {
	return string(b)
}

// BankInfo describes the image held by a bank.
type BankInfo struct {
	// Version is the image build stamp, empty when the bank is unpopulated.
	Version string `json:"version"`

	// ExtractTime is when the image finished extracting. Nil means never, or unknown.
	ExtractTime *time.Time `json:"extract_time,omitempty"`

	// Incomplete is set while an extraction into the bank is in progress and stays
	// set if that extraction never finished.
	Incomplete bool `json:"incomplete,omitempty"`
}

// Populated reports whether the bank holds a complete image.
func (i BankInfo) Populated() bool {
	return i.Version != "" && !i.Incomplete
}

// Snapshot is an immutable copy of the bank registry.
type Snapshot struct {
	OurBank       BankID
	DesiredBank   *BankID
	LastTriedBank *BankID
	LastOKBank    *BankID
	Banks         map[BankID]BankInfo
}

// Our returns the running bank's info.
func (s Snapshot) Our() BankInfo {
	return s.Banks[s.OurBank]
}

// OtherBank returns the bank that is not running.
func (s Snapshot) OtherBank() BankID {
	return s.OurBank.Other()
}

// Other returns the non-running bank's info.
func (s Snapshot) Other() BankInfo {
	return s.Banks[s.OurBank.Other()]
}
