package review

import (
	"encoding/json"

	"github.com/lexitype/lexitype/internal/syncer"
)

// mergeOutcome is the action the last-write-wins policy picks for one
// incoming server envelope against the local row.
type mergeOutcome int

const (
	// mergeInsert creates the row locally; it did not exist before.
	mergeInsert mergeOutcome = iota
	// mergeOverwrite replaces the local row with the server snapshot.
	mergeOverwrite
	// mergeKeepLocal leaves the local row untouched; the pending local change
	// is newer and will be pushed on the next round.
	mergeKeepLocal
	// mergeDelete removes the local row.
	mergeDelete
)

// decideMerge resolves one server envelope against the local row state.
// Conflict resolution is at record granularity: the local row wins only when
// it carries an unpushed change stamped later than the server's copy.
func decideMerge(exists bool, localStatus SyncStatus, localModified int64, action syncer.Action, remote syncer.Meta) mergeOutcome {
	if !exists {
		if action == syncer.ActionDelete {
			return mergeKeepLocal
		}
		return mergeInsert
	}
	localWins := localStatus != SyncStatusSynced && localModified > remote.ServerModifiedAt
	if action == syncer.ActionDelete {
		if localWins {
			return mergeKeepLocal
		}
		return mergeDelete
	}
	if localWins {
		return mergeKeepLocal
	}
	return mergeOverwrite
}

// pendingEnvelope wraps a full record snapshot into a wire envelope. Records
// whose status carries no pending change produce ok false.
func pendingEnvelope(table string, status SyncStatus, record any) (syncer.Envelope, bool, error) {
	action, ok := syncer.ActionForStatus(string(status))
	if !ok {
		return syncer.Envelope{}, false, nil
	}
	data, err := json.Marshal(record)
	if err != nil {
		return syncer.Envelope{}, false, err
	}
	return syncer.Envelope{Table: table, Action: action, Data: data}, true, nil
}
