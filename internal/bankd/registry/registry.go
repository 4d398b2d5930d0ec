// Package registry owns the durable record of both banks and the boot pointers. Every
// mutation goes through a Registry method, is checked against the registry invariants
// and is committed to the Store before the method returns.
package registry

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"k8s.io/utils/ptr"

	"github.com/autopeer-io/bankupdate/internal/bankd/core"
	"github.com/autopeer-io/bankupdate/internal/bankd/hal"
	"github.com/autopeer-io/bankupdate/pkg/log"
)

// UnknownVersion stands in for the running bank's version when its image carries none.
const UnknownVersion = "unknown"

// WipeFunc physically erases a bank.
type WipeFunc func(ctx context.Context, bank core.BankID) error

type Registry struct {
	mu    sync.RWMutex
	store Store
	boot  core.Bootloader

	our       core.BankID
	desired   *core.BankID
	lastTried *core.BankID
	lastOK    *core.BankID
	banks     map[core.BankID]core.BankInfo

	// claims maps a bank to the operation holding it.
	claims map[core.BankID]string
}

// Open reconciles the stored state with the device and returns a ready registry.
// The running bank and its image are read from the device; the other bank is probed
// only when no record of it exists; the boot pointers come from the bootloader, with
// stored values as fallback.
func Open(ctx context.Context, store Store, h core.HAL) (*Registry, error) {
	our, err := h.DetectBank(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect running bank: %w", err)
	}

	st, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	r := &Registry{
		store:     store,
		boot:      h,
		our:       our,
		lastTried: st.LastTriedBank,
		lastOK:    st.LastOKBank,
		banks:     make(map[core.BankID]core.BankInfo, 2),
		claims:    make(map[core.BankID]string),
	}

	ourInfo, err := hal.ReadBankInfo(h.RunningRoot())
	if err != nil {
		log.Error(err, "Failed to read running bank markers", "bank", our)
	}
	if ourInfo.Version == "" {
		ourInfo.Version = UnknownVersion
	}
	ourInfo.Incomplete = false
	r.banks[our] = ourInfo

	other := our.Other()
	if info, ok := st.Banks[other]; ok {
		r.banks[other] = info
	} else {
		r.banks[other] = probe(ctx, h, other)
	}

	desired, err := h.DesiredBank(ctx)
	if err != nil {
		log.Error(err, "Failed to read desired bank from bootloader, using stored value")
		desired = st.DesiredBank
	}
	r.desired = normalize(our, desired)

	if tried, err := h.LastTriedBank(ctx); err != nil {
		log.Error(err, "Failed to read last tried bank from bootloader, using stored value")
	} else if tried != nil {
		r.lastTried = tried
	}

	if err := r.persistLocked(); err != nil {
		return nil, err
	}

	log.Info("Bank registry loaded",
		"ourBank", our,
		"ourVersion", ourInfo.Version,
		"otherVersion", r.banks[other].Version,
		"otherIncomplete", r.banks[other].Incomplete,
		"desiredBank", ptr.Deref(r.desired, ""),
	)
	return r, nil
}

// probe reads the markers of a non-running bank. A bank that carries a version but no
// extraction stamp was interrupted mid-extract and is recorded as incomplete.
func probe(ctx context.Context, h core.Storage, bank core.BankID) core.BankInfo {
	m, err := h.MountBank(ctx, bank)
	if err != nil {
		log.Warn("Could not mount bank for probing, treating it as empty", "bank", bank, "err", err)
		return core.BankInfo{}
	}
	defer func() {
		if err := m.Unmount(); err != nil {
			log.Error(err, "Failed to unmount probed bank", "bank", bank)
		}
	}()

	info, err := hal.ReadBankInfo(m.Root)
	if err != nil {
		log.Warn("Could not read bank markers, treating it as empty", "bank", bank, "err", err)
		return core.BankInfo{}
	}
	if info.Version != "" && info.ExtractTime == nil {
		return core.BankInfo{Incomplete: true}
	}
	return info
}

func normalize(our core.BankID, desired *core.BankID) *core.BankID {
	if desired == nil || *desired == our {
		return nil
	}
	return ptr.To(*desired)
}

// OurBank returns the running bank.
func (r *Registry) OurBank() core.BankID {
	return r.our
}

// Snapshot returns a copy of every field.
func (r *Registry) Snapshot() core.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return core.Snapshot{
		OurBank:       r.our,
		DesiredBank:   copyBank(r.desired),
		LastTriedBank: copyBank(r.lastTried),
		LastOKBank:    copyBank(r.lastOK),
		Banks:         maps.Clone(r.banks),
	}
}

// SetDesired selects the bank to boot next. The bootloader is written first so that a
// failure there leaves the registry as it was.
func (r *Registry) SetDesired(ctx context.Context, bank core.BankID) error {
	if !bank.Valid() {
		return fmt.Errorf("%w: %q (must be A or B)", core.ErrInvalidBank, bank)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.claims[bank]; ok {
		return fmt.Errorf("%w: bank %s is held by %s", core.ErrBankBusy, bank, holder)
	}
	if bank != r.our && !r.banks[bank].Populated() {
		return fmt.Errorf("%w: bank %s holds no complete image", core.ErrBankNotReady, bank)
	}

	if err := r.boot.SetDesiredBank(ctx, bank); err != nil {
		return fmt.Errorf("write bootloader environment: %w", err)
	}

	prevDesired, prevTried := r.desired, r.lastTried
	r.desired = normalize(r.our, &bank)
	r.lastTried = ptr.To(bank)
	if err := r.persistLocked(); err != nil {
		r.desired, r.lastTried = prevDesired, prevTried
		return err
	}

	log.Info("Desired bank set", "bank", bank, "ourBank", r.our)
	return nil
}

// MarkBankIncomplete records that a bank is about to be overwritten.
func (r *Registry) MarkBankIncomplete(bank core.BankID) error {
	return r.setBankInfo(bank, core.BankInfo{Incomplete: true})
}

// MarkBankUpdated records a completely extracted image. The boot pointers are left alone.
func (r *Registry) MarkBankUpdated(bank core.BankID, version string, extractTime time.Time) error {
	t := extractTime.UTC().Truncate(time.Second)
	return r.setBankInfo(bank, core.BankInfo{Version: version, ExtractTime: &t})
}

func (r *Registry) setBankInfo(bank core.BankID, info core.BankInfo) error {
	if !bank.Valid() {
		return fmt.Errorf("%w: %q", core.ErrInvalidBank, bank)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if bank == r.our {
		return fmt.Errorf("%w: bank %s is running", core.ErrInvalidTarget, bank)
	}

	prev := r.banks[bank]
	r.banks[bank] = info
	if err := r.persistLocked(); err != nil {
		r.banks[bank] = prev
		return err
	}
	return nil
}

// SetBankOK confirms the running bank as healthy.
func (r *Registry) SetBankOK() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastOK != nil && *r.lastOK == r.our {
		return nil
	}

	prev := r.lastOK
	r.lastOK = ptr.To(r.our)
	if err := r.persistLocked(); err != nil {
		r.lastOK = prev
		return err
	}

	log.Info("Running bank confirmed ok", "bank", r.our)
	return nil
}

// FormatOtherBank wipes the non-running bank and clears its record. A failed wipe
// leaves the bank recorded as incomplete since its contents are unknown.
func (r *Registry) FormatOtherBank(ctx context.Context, wipe WipeFunc) error {
	other := r.our.Other()
	if err := r.Claim(other, "format"); err != nil {
		return err
	}
	defer r.Release(other)

	wipeErr := wipe(ctx, other)

	info := core.BankInfo{Incomplete: wipeErr != nil}
	if err := r.setBankInfo(other, info); err != nil {
		return err
	}
	if wipeErr != nil {
		return fmt.Errorf("format bank %s: %w", other, wipeErr)
	}

	log.Info("Formatted other bank", "bank", other)
	return nil
}

// Claim reserves a non-running bank for a writer.
func (r *Registry) Claim(bank core.BankID, holder string) error {
	if !bank.Valid() {
		return fmt.Errorf("%w: %q", core.ErrInvalidBank, bank)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if bank == r.our {
		return fmt.Errorf("%w: bank %s is the running bank", core.ErrInvalidTarget, bank)
	}
	if cur, ok := r.claims[bank]; ok {
		return fmt.Errorf("%w: bank %s is held by %s", core.ErrBankBusy, bank, cur)
	}
	r.claims[bank] = holder
	return nil
}

// Release drops a claim. Releasing an unclaimed bank is a no-op.
func (r *Registry) Release(bank core.BankID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, bank)
}

// Claimed reports the holder of a bank, if any.
func (r *Registry) Claimed(bank core.BankID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	holder, ok := r.claims[bank]
	return holder, ok
}

// Close closes the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}

func (r *Registry) persistLocked() error {
	st := &State{
		Banks:         maps.Clone(r.banks),
		DesiredBank:   r.desired,
		LastTriedBank: r.lastTried,
		LastOKBank:    r.lastOK,
	}
	if err := r.store.Save(st); err != nil {
		return fmt.Errorf("persist registry: %w", err)
	}
	return nil
}

func copyBank(b *core.BankID) *core.BankID {
	if b == nil {
		return nil
	}
	return ptr.To(*b)
}
