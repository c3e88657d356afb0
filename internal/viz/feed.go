package viz

import "github.com/san-kum/diffpole/internal/dynamo"

// Feed carries training progress from the trainer goroutine to the UI.
// Sends never block: a slow UI only ever sees the latest snapshot.
type Feed struct {
	snaps   chan dynamo.Snapshot
	records chan dynamo.IterationRecord
}

func NewFeed() *Feed {
	return &Feed{
		snaps:   make(chan dynamo.Snapshot, 1),
		records: make(chan dynamo.IterationRecord, 64),
	}
}

// OnBlock replaces any snapshot the UI has not picked up yet.
func (f *Feed) OnBlock(s dynamo.Snapshot) {
	for {
		select {
		case f.snaps <- s:
			return
		default:
		}
		select {
		case <-f.snaps:
		default:
		}
	}
}

// OnIteration queues an iteration summary, dropping it if the UI is far
// behind.
func (f *Feed) OnIteration(rec dynamo.IterationRecord) {
	select {
	case f.records <- rec:
	default:
	}
}

func (f *Feed) Snapshots() <-chan dynamo.Snapshot {
	return f.snaps
}

func (f *Feed) Records() <-chan dynamo.IterationRecord {
	return f.records
}
