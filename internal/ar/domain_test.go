package ar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDaysOverdueFloorsAtZero(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	inv := Invoice{DueAt: now.AddDate(0, 0, 10)}
	require.Equal(t, 0, inv.DaysOverdue(now))
	require.Equal(t, 10, inv.DaysToDue(now))

	inv.DueAt = now.AddDate(0, 0, -10)
	require.Equal(t, 10, inv.DaysOverdue(now))
	require.Equal(t, -10, inv.DaysToDue(now))
}

func TestAmountDueNeverNegative(t *testing.T) {
	inv := Invoice{Amount: 100, AmountPaid: 100.5}
	require.Equal(t, 0.0, inv.AmountDue())

	inv = Invoice{Amount: 100, AmountPaid: 30}
	require.Equal(t, 70.0, inv.AmountDue())
}

func TestIsOpen(t *testing.T) {
	for _, s := range OpenStatuses {
		require.True(t, Invoice{Status: s}.IsOpen())
	}
	require.False(t, Invoice{Status: StatusPaid}.IsOpen())
}
