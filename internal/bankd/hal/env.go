package hal

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio"

	"github.com/autopeer-io/bankupdate/internal/bankd/core"
)

// Bootloader environment variable names.
const (
	EnvDesiredBank   = "desired_bank"
	EnvLastTriedBank = "last_tried_bank"
)

// fileEnv is a text key=value bootloader environment, the format fw_setenv -s accepts.
// It backs the directory HAL and doubles as the boot selector in development setups.
type fileEnv struct {
	mu   sync.Mutex
	path string
}

var _ core.Bootloader = (*fileEnv)(nil)

func newFileEnv(path string) *fileEnv {
	return &fileEnv{path: path}
}

func (e *fileEnv) DesiredBank(ctx context.Context) (*core.BankID, error) {
	return e.bank(EnvDesiredBank)
}

func (e *fileEnv) LastTriedBank(ctx context.Context) (*core.BankID, error) {
	return e.bank(EnvLastTriedBank)
}

func (e *fileEnv) SetDesiredBank(ctx context.Context, bank core.BankID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	vars, err := e.load()
	if err != nil {
		return err
	}
	vars[EnvDesiredBank] = bank.String()
	return renameio.WriteFile(e.path, encodeEnv(vars), 0o644)
}

func (e *fileEnv) bank(key string) (*core.BankID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vars, err := e.load()
	if err != nil {
		return nil, err
	}
	return parseEnvBank(key, vars[key])
}

func (e *fileEnv) load() (map[string]string, error) {
	data, err := os.ReadFile(e.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeEnv(data), nil
}

func parseEnvBank(key, value string) (*core.BankID, error) {
	if value == "" {
		return nil, nil
	}
	bank, err := core.ParseBankID(value)
	if err != nil {
		return nil, fmt.Errorf("bootloader variable %s: %w", key, err)
	}
	return &bank, nil
}

func decodeEnv(data []byte) map[string]string {
	vars := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		vars[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return vars
}

func encodeEnv(vars map[string]string) []byte {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, vars[k])
	}
	return b.Bytes()
}
