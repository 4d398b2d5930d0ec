package options

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"
)

const (
	// HALPartition drives real partitions with mkfs, mount and fw_setenv.
	HALPartition = "partition"
	// HALDir keeps banks in plain directories, for development hosts.
	HALDir = "dir"
)

var _ IOptions = (*BankOptions)(nil)

// BankOptions describes where the banks live and where controller state is kept.
type BankOptions struct {
	HAL string `json:"hal" mapstructure:"hal"`

	// Partition layout.
	DeviceA    string `json:"device-a" mapstructure:"device-a"`
	DeviceB    string `json:"device-b" mapstructure:"device-b"`
	BootDevice string `json:"boot-device" mapstructure:"boot-device"`
	MountPoint string `json:"mount-point" mapstructure:"mount-point"`
	Fstab      string `json:"fstab" mapstructure:"fstab"`

	// Directory layout, only used with the dir HAL.
	Dir         string `json:"dir" mapstructure:"dir"`
	RunningBank string `json:"running-bank" mapstructure:"running-bank"`

	// StateFile is the registry database.
	StateFile string `json:"state-file" mapstructure:"state-file"`

	// ConfigFiles are copied from the running bank into a freshly written bank.
	ConfigFiles []string `json:"config-files" mapstructure:"config-files"`
}

func NewBankOptions() *BankOptions {
	return &BankOptions{
		HAL:        HALPartition,
		DeviceA:    "/dev/mmcblk0p2",
		DeviceB:    "/dev/mmcblk0p3",
		BootDevice: "/dev/mmcblk0p1",
		MountPoint: "/mnt/other_bank",
		Fstab:      "/etc/fstab",
		Dir:        "/var/lib/bankupdate/banks",
		StateFile:  "/var/lib/bankupdate/registry.db",
	}
}

func (o *BankOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	switch o.HAL {
	case HALPartition:
		if o.DeviceA == "" || o.DeviceB == "" {
			errs = append(errs, fmt.Errorf("--bank.device-a and --bank.device-b are required"))
		}
		if o.DeviceA == o.DeviceB {
			errs = append(errs, fmt.Errorf("banks A and B must live on different devices"))
		}
	case HALDir:
		if o.Dir == "" {
			errs = append(errs, fmt.Errorf("--bank.dir is required with the dir hal"))
		}
		if o.RunningBank != "" && o.RunningBank != "A" && o.RunningBank != "B" {
			errs = append(errs, fmt.Errorf("--bank.running-bank must be A or B"))
		}
	default:
		errs = append(errs, fmt.Errorf("--bank.hal must be %q or %q", HALPartition, HALDir))
	}

	if o.StateFile == "" {
		errs = append(errs, fmt.Errorf("--bank.state-file is required"))
	}
	for _, f := range o.ConfigFiles {
		if !filepath.IsAbs(f) {
			errs = append(errs, fmt.Errorf("config file %q must be an absolute path", f))
		}
	}

	return errs
}

func (o *BankOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.HAL, "bank.hal", o.HAL, "Bank backend: 'partition' for real devices, 'dir' for plain directories.")
	fs.StringVar(&o.DeviceA, "bank.device-a", o.DeviceA, "Block device holding bank A.")
	fs.StringVar(&o.DeviceB, "bank.device-b", o.DeviceB, "Block device holding bank B.")
	fs.StringVar(&o.BootDevice, "bank.boot-device", o.BootDevice, "Boot partition written into rendered fstabs.")
	fs.StringVar(&o.MountPoint, "bank.mount-point", o.MountPoint, "Where the non-running bank is mounted.")
	fs.StringVar(&o.Fstab, "bank.fstab", o.Fstab, "fstab used to detect the running bank.")
	fs.StringVar(&o.Dir, "bank.dir", o.Dir, "Base directory of the dir hal.")
	fs.StringVar(&o.RunningBank, "bank.running-bank", o.RunningBank, "Running bank for the dir hal (defaults to the recorded one).")
	fs.StringVar(&o.StateFile, "bank.state-file", o.StateFile, "Path of the bank registry database.")
	fs.StringSliceVar(&o.ConfigFiles, "bank.config-files", o.ConfigFiles, "Files copied from the running bank into an updated bank.")
}
