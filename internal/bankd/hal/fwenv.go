package hal

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/autopeer-io/bankupdate/internal/bankd/core"
	"github.com/autopeer-io/bankupdate/pkg/log"
)

// FwEnv talks to the U-Boot environment through the libubootenv tools.
type FwEnv struct {
	PrintEnv string
	SetEnv   string
}

var _ core.Bootloader = (*FwEnv)(nil)

// NewFwEnv returns a FwEnv using fw_printenv and fw_setenv from PATH.
func NewFwEnv() *FwEnv {
	return &FwEnv{PrintEnv: "fw_printenv", SetEnv: "fw_setenv"}
}

func (e *FwEnv) DesiredBank(ctx context.Context) (*core.BankID, error) {
	return e.bank(ctx, EnvDesiredBank)
}

func (e *FwEnv) LastTriedBank(ctx context.Context) (*core.BankID, error) {
	return e.bank(ctx, EnvLastTriedBank)
}

func (e *FwEnv) SetDesiredBank(ctx context.Context, bank core.BankID) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.SetEnv, EnvDesiredBank, bank.String())
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s=%s: %w: %s", e.SetEnv, EnvDesiredBank, bank, err, strings.TrimSpace(stderr.String()))
	}
	log.Info("Wrote bootloader environment", EnvDesiredBank, bank)
	return nil
}

func (e *FwEnv) bank(ctx context.Context, key string) (*core.BankID, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.PrintEnv, key)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// fw_printenv exits non-zero for undefined variables.
		if strings.Contains(stderr.String(), "not defined") {
			return nil, nil
		}
		return nil, fmt.Errorf("%s %s: %w: %s", e.PrintEnv, key, err, strings.TrimSpace(stderr.String()))
	}
	return parseEnvBank(key, decodeEnv(stdout.Bytes())[key])
}
