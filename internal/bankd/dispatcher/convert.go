package dispatcher

import (
	"time"

	"k8s.io/utils/ptr"

	"github.com/autopeer-io/bankupdate/internal/bankd/core"
	"github.com/autopeer-io/bankupdate/internal/bankd/hal"
	v1 "github.com/autopeer-io/bankupdate/pkg/apis/bank/v1"
)

func toBankState(s core.Snapshot) v1.BankState {
	our, other := s.Our(), s.Other()

	state := v1.BankState{
		OurBank:        s.OurBank.String(),
		DesiredBank:    bankString(s.DesiredBank),
		OurVersion:     our.Version,
		OurExtractTime: v1.NotAvailable,
	}
	if our.ExtractTime != nil {
		state.OurExtractTime = formatTime(*our.ExtractTime)
	}
	if other.Populated() {
		state.OtherVersion = other.Version
		if other.ExtractTime != nil {
			state.OtherExtractTime = ptr.To(formatTime(*other.ExtractTime))
		}
	}
	return state
}

func toBankStatus(s core.Snapshot) v1.BankStatus {
	return v1.BankStatus{
		BankState:     toBankState(s),
		LastTriedBank: bankString(s.LastTriedBank),
		LastOKBank:    bankString(s.LastOKBank),
	}
}

func bankString(b *core.BankID) *string {
	if b == nil {
		return nil
	}
	return ptr.To(b.String())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(hal.ExtractTimeLayout)
}
