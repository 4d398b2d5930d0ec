package core

import (
	"context"
)

// Bootloader is the bank-selection side of the platform. The bootloader itself decides
// which bank boots; we only read and write its environment.
type Bootloader interface {
	// DesiredBank returns the bank the bootloader will select on next boot, nil if unset.
	DesiredBank(ctx context.Context) (*BankID, error)

	// LastTriedBank returns the bank selected on the most recent boot attempt, nil if
	// the bootloader does not record it.
	LastTriedBank(ctx context.Context) (*BankID, error)

	// SetDesiredBank durably records the bank to boot next.
	SetDesiredBank(ctx context.Context, bank BankID) error
}

// Mount is a bank mounted for writing. Unmount must be called exactly once.
type Mount struct {
	Root    string
	Unmount func() error
}

// Storage gives access to the bank partitions.
type Storage interface {
	// DetectBank returns the bank the system is running from.
	DetectBank(ctx context.Context) (BankID, error)

	// RunningRoot is the filesystem root of the running bank.
	RunningRoot() string

	// FormatBank wipes a bank. It must never be called for the running bank.
	FormatBank(ctx context.Context, bank BankID) error

	// MountBank mounts a non-running bank for reading and writing.
	MountBank(ctx context.Context, bank BankID) (*Mount, error)

	// PrepareBank applies device specific fixups to a freshly written bank, such as
	// rendering its fstab so it mounts itself as root.
	PrepareBank(ctx context.Context, bank BankID, root string) error
}

// HAL (Hardware Abstraction Layer) bundles everything the controller needs from the
// device.
type HAL interface {
	Bootloader
	Storage
}
