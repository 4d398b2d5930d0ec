package hal

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/autopeer-io/bankupdate/internal/bankd/core"
)

// Layout maps banks to block devices and names the shared partitions.
type Layout struct {
	Devices    map[core.BankID]string
	BootDevice string
	OtherMount string
}

// DefaultLayout is the Raspberry Pi style SD card layout: p1 boot, p2 bank A, p3 bank B.
func DefaultLayout() Layout {
	return Layout{
		Devices: map[core.BankID]string{
			core.BankA: "/dev/mmcblk0p2",
			core.BankB: "/dev/mmcblk0p3",
		},
		BootDevice: "/dev/mmcblk0p1",
		OtherMount: "/mnt/other_bank",
	}
}

// DetectFromFstab finds the bank whose device is mounted as the ext4 root filesystem.
func (l Layout) DetectFromFstab(r io.Reader) (core.BankID, error) {
	patterns := make(map[core.BankID]*regexp.Regexp, len(l.Devices))
	for bank, dev := range l.Devices {
		patterns[bank] = regexp.MustCompile(`^\s*` + regexp.QuoteMeta(dev) + `\s+/\s+ext4\s`)
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		for bank, re := range patterns {
			if re.MatchString(line) {
				return bank, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	return "", fmt.Errorf("could not identify bank: no bank device mounted as / in fstab")
}

// RenderFstab returns the fstab a bank needs to boot as root with the other bank
// available under OtherMount.
func (l Layout) RenderFstab(bank core.BankID) string {
	var b strings.Builder
	row := func(dev, mnt, typ, opts, dump, pass string) {
		fmt.Fprintf(&b, "%-15s %-15s %-7s %-17s %-7s %s\n", dev, mnt, typ, opts, dump, pass)
	}
	row("proc", "/proc", "proc", "defaults", "0", "0")
	row(l.BootDevice, "/boot", "vfat", "defaults", "0", "2")
	row(l.Devices[bank.Other()], l.OtherMount, "ext4", "noauto,noatime", "0", "0")
	row(l.Devices[bank], "/", "ext4", "defaults,noatime", "0", "1")
	return b.String()
}
