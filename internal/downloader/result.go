package downloader

import (
	"fmt"
	"time"

	"github.com/italolelis/batch_downloader/internal/storage"
	"github.com/italolelis/batch_downloader/internal/transfer"
)

// Result is the terminal outcome of one transfer.
type Result struct {
	URL         string
	Destination string
	State       transfer.State
	Attempts    int
	Bytes       int64
	// Err is set when State is transfer.StateFailed.
	Err error
	// Unclassified marks failures that escaped the retry path rather than
	// being handled by it (retry exhaustion, finalize errors).
	Unclassified bool
}

// BatchResult records the outcome of every requested URL, in request order.
type BatchResult struct {
	ID              string
	Started         time.Time
	Finished        time.Time
	PeakConcurrency int
	Results         []Result
}

// Summary counts results by terminal state.
type Summary struct {
	Total        int
	Succeeded    int
	Skipped      int
	Failed       int
	Unclassified int
	Bytes        int64
}

func (s Summary) String() string {
	return fmt.Sprintf("%d succeeded, %d skipped, %d failed (%d unclassified) of %d",
		s.Succeeded, s.Skipped, s.Failed, s.Unclassified, s.Total)
}

// Summary counts the batch results.
func (b *BatchResult) Summary() Summary {
	s := Summary{Total: len(b.Results)}

	for _, r := range b.Results {
		switch r.State {
		case transfer.StateSucceeded:
			s.Succeeded++
			s.Bytes += r.Bytes
		case transfer.StateSkipped:
			s.Skipped++
		default:
			s.Failed++

			if r.Unclassified {
				s.Unclassified++
			}
		}
	}

	return s
}

// Failed returns the results that did not succeed or skip.
func (b *BatchResult) Failed() []Result {
	var failed []Result

	for _, r := range b.Results {
		if r.State != transfer.StateSucceeded && r.State != transfer.StateSkipped {
			failed = append(failed, r)
		}
	}

	return failed
}

// Duration returns how long the batch ran.
func (b *BatchResult) Duration() time.Duration {
	return b.Finished.Sub(b.Started)
}

// Records converts the results into ledger rows tagged with instance.
func (b *BatchResult) Records(instance string) []storage.TransferRecord {
	finished := b.Finished.UTC().Format(time.RFC3339)
	records := make([]storage.TransferRecord, 0, len(b.Results))

	for _, r := range b.Results {
		rec := storage.TransferRecord{
			BatchID:     b.ID,
			Instance:    instance,
			URL:         r.URL,
			Destination: r.Destination,
			State:       r.State.String(),
			Attempts:    r.Attempts,
			Bytes:       r.Bytes,
			FinishedAt:  finished,
		}

		if r.Err != nil {
			rec.Error = r.Err.Error()
		}

		records = append(records, rec)
	}

	return records
}
