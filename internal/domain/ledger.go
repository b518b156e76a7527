package domain

import "context"

// SignatureRecord identifies one confirmed transaction for an account as
// returned by the ledger-query service. BlockTime is nil when the node did
// not report one.
type SignatureRecord struct {
	ID        string
	BlockTime *int64
}

// RawTransaction is the subset of a fetched transaction the pipeline needs:
// its program log output.
type RawTransaction struct {
	ID        string
	BlockTime *int64
	LogLines  []string
}

// DecodedTransaction is a transaction whose log lines decoded into at least
// one protocol event.
type DecodedTransaction struct {
	ID        string
	Timestamp int64 // unix seconds
	Events    []LogEvent
}

// SignatureEntry is a raw listing entry prior to filtering. Failed reports
// whether the service flagged the transaction as failed.
type SignatureEntry struct {
	Signature string
	BlockTime *int64
	Failed    bool
}

// LedgerClient queries the remote ledger service for an account's history.
//
// GetTransaction returns (nil, nil) when the transaction is unknown to the
// node or carries no log output (pruned); this is not an error.
type LedgerClient interface {
	ListSignatures(ctx context.Context, address, before string, limit int) ([]SignatureEntry, error)
	GetTransaction(ctx context.Context, signature string) (*RawTransaction, error)
}

// EventDecoder converts a transaction's raw log lines into protocol events.
// Implementations may return an error or an empty slice for transactions
// that do not belong to the protocol.
type EventDecoder interface {
	Decode(ctx context.Context, logLines []string) ([]LogEvent, error)
}

// InstrumentResolver maps numeric instrument ids to display metadata.
type InstrumentResolver interface {
	SymbolFor(instrumentID uint32) string
	MarketKindFor(instrumentID uint32) MarketKind
}
