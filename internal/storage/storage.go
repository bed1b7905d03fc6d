package storage

import "context"

// TransferRecord is the ledger row describing how one transfer of a batch ended.
type TransferRecord struct {
	BatchID     string
	Instance    string
	URL         string
	Destination string
	State       string
	Attempts    int
	Bytes       int64
	Error       string
	FinishedAt  string
}

// TransferReadRepository queries past batches.
type TransferReadRepository interface {
	GetBatch(ctx context.Context, batchID string) ([]TransferRecord, error)
	GetFailed(ctx context.Context, batchID string) ([]TransferRecord, error)
}

// TransferWriteRepository records finished batches.
type TransferWriteRepository interface {
	RecordBatch(ctx context.Context, records []TransferRecord) error
}

// TransferRepository is the full ledger.
type TransferRepository interface {
	TransferReadRepository
	TransferWriteRepository
}
