package sinks

import (
	"time"

	"github.com/JakeFAU/loadstate/internal/progress"
)

var baseTime = time.Unix(1700000000, 0).UTC()

func change(
	kind progress.ChangeKind,
	id string,
	phase progress.Phase,
	categories progress.CategorySet,
	at time.Duration,
) progress.Change {
	return progress.Change{
		Kind: kind,
		State: progress.LoadingState{
			ID:         id,
			Phase:      phase,
			Categories: categories,
			Timestamp:  baseTime.Add(at),
		},
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
