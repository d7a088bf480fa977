package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDialString(t *testing.T) {
	require.Equal(t, "*182*8*1*004455*2000#", DialString("004455", 2000))

	in := NewPaymentInstruction("dep-1", "004455", 15000, "0781234567")
	require.Equal(t, "*182*8*1*004455*15000#", in.DialString)
	require.NoError(t, USSDRail{}.Initiate(context.Background(), in))
}

func TestNormalizePhone(t *testing.T) {
	valid := map[string]string{
		"0781234567":      "0781234567",
		"078 123 4567":    "0781234567",
		"078-123-4567":    "0781234567",
		"250781234567":    "0781234567",
		"+250 78 1234567": "0781234567",
	}
	for in, want := range valid {
		got, err := NormalizePhone(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}

	for _, in := range []string{"", "12345", "0881234567", "07812345678", "+254781234567", "07abc45678"} {
		_, err := NormalizePhone(in)
		require.ErrorIs(t, err, ErrValidation, in)
	}
}
