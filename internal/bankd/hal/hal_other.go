//go:build !linux

package hal

import (
	"errors"

	"github.com/autopeer-io/bankupdate/internal/bankd/core"
)

func NewLinuxHAL(layout Layout, fstabPath string) (core.HAL, error) {
	return nil, errors.New("partition backed banks are only supported on linux, use the dir HAL")
}
