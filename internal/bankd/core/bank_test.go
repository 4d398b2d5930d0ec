package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseBankID(t *testing.T) {
	tests := []struct {
		in      string
		want    BankID
		wantErr bool
	}{
		{"A", BankA, false},
		{"B", BankB, false},
		{"a", "", true},
		{"C", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseBankID(tt.in)
		if tt.wantErr {
			assert.True(t, errors.Is(err, ErrInvalidBank), tt.in)
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestOther(t *testing.T) {
	assert.Equal(t, BankB, BankA.Other())
	assert.Equal(t, BankA, BankB.Other())
}

func TestSnapshotViews(t *testing.T) {
	now := time.Now()
	s := Snapshot{
		OurBank: BankB,
		Banks: map[BankID]BankInfo{
			BankA: {Version: "old", ExtractTime: &now},
			BankB: {Version: "new"},
		},
	}
	assert.Equal(t, BankA, s.OtherBank())
	assert.Equal(t, "new", s.Our().Version)
	assert.Equal(t, "old", s.Other().Version)
}

func TestPopulated(t *testing.T) {
	assert.False(t, BankInfo{}.Populated())
	assert.True(t, BankInfo{Version: "v1"}.Populated())
	assert.False(t, BankInfo{Version: "v1", Incomplete: true}.Populated())
}
