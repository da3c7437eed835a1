package filesync

import "time"

// SyncTolerance is the inclusive window within which two timestamps are
// considered equal. Some backends cannot preserve sub-second or
// client-assigned modification times exactly.
const SyncTolerance = time.Second

// SyncStatus is the outcome of comparing one side's descriptor against
// the other side's.
type SyncStatus int

const (
	StatusUndetermined SyncStatus = iota
	StatusSynced
	StatusRemoteNewer
	StatusLocalNewer
)

func (s SyncStatus) String() string {
	switch s {
	case StatusSynced:
		return "synced"
	case StatusRemoteNewer:
		return "remote-newer"
	case StatusLocalNewer:
		return "local-newer"
	default:
		return "undetermined"
	}
}

// StatusComparedToLocal compares a remote descriptor against its local
// counterpart. A missing local means the remote is newer.
func StatusComparedToLocal(remote Descriptor, local *Descriptor) SyncStatus {
	if local == nil {
		return StatusRemoteNewer
	}

	if remote.Filename != local.Filename {
		return StatusUndetermined
	}

	return classify(remote.UpdatedAt.Sub(local.UpdatedAt))
}

// StatusComparedToRemote is the mirror of StatusComparedToLocal. For the
// same pair both functions report the same status.
func StatusComparedToRemote(local, remote Descriptor) SyncStatus {
	if local.Filename != remote.Filename {
		return StatusUndetermined
	}

	return classify(remote.UpdatedAt.Sub(local.UpdatedAt))
}

// classify maps remote minus local onto a status.
func classify(delta time.Duration) SyncStatus {
	switch {
	case delta > SyncTolerance:
		return StatusRemoteNewer
	case delta < -SyncTolerance:
		return StatusLocalNewer
	default:
		return StatusSynced
	}
}
