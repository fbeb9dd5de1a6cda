package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klpod221/kerminal/lib/vault/store"
)

func TestRecordDominatesRequiresBothVersionAndTime(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := Record{Version: 1, UpdatedAt: base}
	newer := Record{Version: 2, UpdatedAt: base.Add(time.Hour)}

	require.True(t, newer.Dominates(older))
	require.False(t, older.Dominates(newer))

	incomparable := Record{Version: 3, UpdatedAt: base.Add(-time.Hour)}
	require.False(t, newer.Dominates(incomparable))
	require.False(t, incomparable.Dominates(newer))
	require.True(t, Incomparable(newer, incomparable))
}

func TestLastWriteWinsPicksGreaterUpdatedAt(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	local := Record{UpdatedAt: base, Version: 6, DeviceID: "a"}
	remote := Record{UpdatedAt: base.Add(time.Minute), Version: 6, DeviceID: "b"}

	require.Equal(t, SideRemote, resolve(store.ConflictStrategyLastWriteWins, local, remote))
	require.Equal(t, SideLocal, resolve(store.ConflictStrategyFirstWriteWins, local, remote))
}

func TestLastWriteWinsTieBreaksByVersionThenDeviceID(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	local := Record{UpdatedAt: base, Version: 7, DeviceID: "a"}
	remote := Record{UpdatedAt: base, Version: 6, DeviceID: "b"}
	require.Equal(t, SideLocal, resolve(store.ConflictStrategyLastWriteWins, local, remote))

	tied := Record{UpdatedAt: base, Version: 6, DeviceID: "z"}
	remote2 := Record{UpdatedAt: base, Version: 6, DeviceID: "a"}
	require.Equal(t, SideLocal, resolve(store.ConflictStrategyLastWriteWins, tied, remote2))
}

func TestPriorityStrategiesAreUnconditional(t *testing.T) {
	local := Record{Version: 1}
	remote := Record{Version: 99}
	require.Equal(t, SideLocal, resolve(store.ConflictStrategyLocalPriority, local, remote))
	require.Equal(t, SideRemote, resolve(store.ConflictStrategyRemotePriority, local, remote))
	require.Equal(t, SideManual, resolve(store.ConflictStrategyManual, local, remote))
}
