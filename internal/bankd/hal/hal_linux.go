//go:build linux

package hal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/autopeer-io/bankupdate/internal/bankd/core"
	"github.com/autopeer-io/bankupdate/pkg/log"
)

// LinuxHAL drives real bank partitions: fstab based detection, mkfs.ext4, mount(2)
// and the U-Boot environment.
type LinuxHAL struct {
	*FwEnv

	layout    Layout
	fstabPath string
}

var _ core.HAL = (*LinuxHAL)(nil)

func NewLinuxHAL(layout Layout, fstabPath string) (*LinuxHAL, error) {
	for _, bank := range []core.BankID{core.BankA, core.BankB} {
		if layout.Devices[bank] == "" {
			return nil, fmt.Errorf("no device configured for bank %s", bank)
		}
	}
	return &LinuxHAL{
		FwEnv:     NewFwEnv(),
		layout:    layout,
		fstabPath: fstabPath,
	}, nil
}

func (h *LinuxHAL) DetectBank(ctx context.Context) (core.BankID, error) {
	f, err := os.Open(h.fstabPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return h.layout.DetectFromFstab(f)
}

func (h *LinuxHAL) RunningRoot() string {
	return "/"
}

func (h *LinuxHAL) FormatBank(ctx context.Context, bank core.BankID) error {
	if err := h.refuseRunning(ctx, bank); err != nil {
		return err
	}

	dev := h.layout.Devices[bank]
	log.Info("Formatting bank as ext4", "bank", bank, "device", dev)

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "mkfs.ext4", "-F", "-q", dev)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mkfs.ext4 %s: %w: %s", dev, err, strings.TrimSpace(out.String()))
	}
	return nil
}

func (h *LinuxHAL) MountBank(ctx context.Context, bank core.BankID) (*core.Mount, error) {
	if err := h.refuseRunning(ctx, bank); err != nil {
		return nil, err
	}

	dev, target := h.layout.Devices[bank], h.layout.OtherMount
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, err
	}
	if err := unix.Mount(dev, target, "ext4", unix.MS_NOATIME, ""); err != nil {
		return nil, fmt.Errorf("mount %s on %s: %w", dev, target, err)
	}
	log.Debug("Mounted bank", "bank", bank, "device", dev, "target", target)

	return &core.Mount{
		Root: target,
		Unmount: func() error {
			unix.Sync()
			err := unix.Unmount(target, 0)
			if errors.Is(err, unix.EBUSY) {
				log.Warn("Bank busy, detaching mount", "target", target)
				err = unix.Unmount(target, unix.MNT_DETACH)
			}
			return err
		},
	}, nil
}

func (h *LinuxHAL) PrepareBank(ctx context.Context, bank core.BankID, root string) error {
	log.Info("Regenerating fstab", "bank", bank)
	return writeFstab(root, h.layout, bank)
}

func (h *LinuxHAL) refuseRunning(ctx context.Context, bank core.BankID) error {
	running, err := h.DetectBank(ctx)
	if err != nil {
		return err
	}
	if bank == running {
		return fmt.Errorf("%w: bank %s is running", core.ErrInvalidTarget, bank)
	}
	return nil
}
