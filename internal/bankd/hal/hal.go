package hal

import (
	"fmt"

	"github.com/autopeer-io/bankupdate/internal/bankd/core"
	"github.com/autopeer-io/bankupdate/pkg/options"
)

// New builds the HAL selected by the bank options.
func New(opts *options.BankOptions) (core.HAL, error) {
	layout := Layout{
		Devices: map[core.BankID]string{
			core.BankA: opts.DeviceA,
			core.BankB: opts.DeviceB,
		},
		BootDevice: opts.BootDevice,
		OtherMount: opts.MountPoint,
	}

	switch opts.HAL {
	case options.HALPartition:
		return NewLinuxHAL(layout, opts.Fstab)
	case options.HALDir:
		return NewDirHAL(opts.Dir, core.BankID(opts.RunningBank), layout)
	}
	return nil, fmt.Errorf("unknown hal %q", opts.HAL)
}
