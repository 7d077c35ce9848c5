package certificates

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
)

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		amount   uint64
		decimals uint8
		want     string
	}{
		{0, 0, "0"},
		{999, 0, "999"},
		{1000, 0, "1,000"},
		{1234567, 0, "1,234,567"},
		{1500, 3, "1.500"},
		{1234567, 2, "12,345.67"},
		{5, 2, "0.05"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatAmount(tc.amount, tc.decimals), "amount %d decimals %d", tc.amount, tc.decimals)
	}
}

func sampleRetirement() Retirement {
	return Retirement{
		Holder:      ledger.PublicKey{1, 2, 3},
		Sink:        ledger.PublicKey{4, 5, 6},
		Amount:      120,
		Beneficiary: "Coastal Restoration Fund",
		Reason:      "2025 scope 1 offset",
		IssuedAt:    time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		Projects: []ProjectLine{
			{ProjectID: "BCP-001", Ecosystem: "mangrove", Credits: 80},
			{ProjectID: "BCP-002", Ecosystem: "seagrass", Credits: 40},
		},
	}
}

func TestGenerator_RendersPDF(t *testing.T) {
	g := NewGenerator(DefaultOptions())
	out, err := g.Bytes(sampleRetirement())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.Greater(t, len(out), 1000)
}

func TestGenerator_RejectsEmptyRetirement(t *testing.T) {
	r := sampleRetirement()
	r.Amount = 0
	_, err := NewGenerator(DefaultOptions()).Bytes(r)
	assert.ErrorIs(t, err, ErrNothingRetired)
}

func TestRetirement_IDIsStable(t *testing.T) {
	a := sampleRetirement()
	b := sampleRetirement()
	b.IssuedAt = b.IssuedAt.Add(24 * time.Hour)
	assert.Equal(t, a.ID(), b.ID())

	b.Amount++
	assert.NotEqual(t, a.ID(), b.ID())
}
