package hal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"

	"github.com/autopeer-io/bankupdate/internal/bankd/core"
	"github.com/autopeer-io/bankupdate/pkg/log"
)

// RunningFile names the file under a DirHAL base that records the running bank.
const RunningFile = "running"

// DirHAL keeps each bank in a plain directory under a base path. It is used on
// development hosts and in tests, where there are no partitions to format or mount.
//
//	<base>/A/        bank A root
//	<base>/B/        bank B root
//	<base>/running   "A" or "B"
//	<base>/bootenv   desired_bank=..., last_tried_bank=...
type DirHAL struct {
	*fileEnv

	base   string
	layout Layout
}

var _ core.HAL = (*DirHAL)(nil)

// NewDirHAL creates the bank directories under base. If running is empty the running
// bank is read from <base>/running, defaulting to A.
func NewDirHAL(base string, running core.BankID, layout Layout) (*DirHAL, error) {
	for _, bank := range []core.BankID{core.BankA, core.BankB} {
		if err := os.MkdirAll(filepath.Join(base, bank.String()), 0o755); err != nil {
			return nil, err
		}
	}

	if running != "" {
		if !running.Valid() {
			return nil, fmt.Errorf("%w: running bank %q", core.ErrInvalidBank, running)
		}
		if err := renameio.WriteFile(filepath.Join(base, RunningFile), []byte(running.String()+"\n"), 0o644); err != nil {
			return nil, err
		}
	}

	return &DirHAL{
		fileEnv: newFileEnv(filepath.Join(base, "bootenv")),
		base:    base,
		layout:  layout,
	}, nil
}

// BankDir returns the directory that holds a bank.
func (h *DirHAL) BankDir(bank core.BankID) string {
	return filepath.Join(h.base, bank.String())
}

func (h *DirHAL) DetectBank(ctx context.Context) (core.BankID, error) {
	data, err := os.ReadFile(filepath.Join(h.base, RunningFile))
	if errors.Is(err, fs.ErrNotExist) {
		return core.BankA, nil
	}
	if err != nil {
		return "", err
	}
	return core.ParseBankID(strings.TrimSpace(string(data)))
}

func (h *DirHAL) RunningRoot() string {
	bank, err := h.DetectBank(context.Background())
	if err != nil {
		bank = core.BankA
	}
	return h.BankDir(bank)
}

func (h *DirHAL) FormatBank(ctx context.Context, bank core.BankID) error {
	if err := h.refuseRunning(ctx, bank); err != nil {
		return err
	}

	dir := h.BankDir(bank)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}

	log.Info("Formatted bank directory", "bank", bank, "dir", dir)
	return nil
}

func (h *DirHAL) MountBank(ctx context.Context, bank core.BankID) (*core.Mount, error) {
	if err := h.refuseRunning(ctx, bank); err != nil {
		return nil, err
	}
	return &core.Mount{
		Root:    h.BankDir(bank),
		Unmount: func() error { return nil },
	}, nil
}

func (h *DirHAL) PrepareBank(ctx context.Context, bank core.BankID, root string) error {
	return writeFstab(root, h.layout, bank)
}

func (h *DirHAL) refuseRunning(ctx context.Context, bank core.BankID) error {
	running, err := h.DetectBank(ctx)
	if err != nil {
		return err
	}
	if bank == running {
		return fmt.Errorf("%w: bank %s is running", core.ErrInvalidTarget, bank)
	}
	return nil
}

func writeFstab(root string, layout Layout, bank core.BankID) error {
	etc := filepath.Join(root, "etc")
	if err := os.MkdirAll(etc, 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(etc, "fstab"), []byte(layout.RenderFstab(bank)), 0o644)
}
