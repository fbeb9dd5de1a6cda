package sync

import "github.com/klpod221/kerminal/lib/vault/store"

// Side names which copy of a conflicting record a resolution picked.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
	// SideManual means no automatic winner was picked; a ConflictRecord was
	// persisted instead and the record is left untouched until resolved.
	SideManual Side = "manual"
)

// resolve applies a conflict-resolution strategy to an incomparable pair
// and returns which side wins, or SideManual if the strategy defers to the
// user.
func resolve(strategy store.ConflictStrategy, local, remote Record) Side {
	switch strategy {
	case store.ConflictStrategyLastWriteWins:
		return lastWriteWins(local, remote)
	case store.ConflictStrategyFirstWriteWins:
		if lastWriteWins(local, remote) == SideLocal {
			return SideRemote
		}
		return SideLocal
	case store.ConflictStrategyLocalPriority:
		return SideLocal
	case store.ConflictStrategyRemotePriority:
		return SideRemote
	case store.ConflictStrategyManual:
		return SideManual
	default:
		return SideManual
	}
}

// lastWriteWins picks the side with the greater UpdatedAt; ties break by
// greater Version, then by lexicographically greater device id.
func lastWriteWins(local, remote Record) Side {
	if local.UpdatedAt.After(remote.UpdatedAt) {
		return SideLocal
	}
	if remote.UpdatedAt.After(local.UpdatedAt) {
		return SideRemote
	}
	if local.Version != remote.Version {
		if local.Version > remote.Version {
			return SideLocal
		}
		return SideRemote
	}
	if local.DeviceID > remote.DeviceID {
		return SideLocal
	}
	return SideRemote
}
