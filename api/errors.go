package api

import "errors"

// Error taxonomy for ingestion calls. Callers classify failures with
// errors.Is; every sentinel below aborts the call with the table and ledger
// exactly as they were before it.
var (
	// ErrSourceUnavailable: the source location cannot be listed.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrMalformedRecord: FAILFAST parsing hit a non-conforming row.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrCorruptFile: structurally undecodable binary input. Fatal in every
	// failure mode.
	ErrCorruptFile = errors.New("corrupt file")

	// ErrSchemaConflict: incompatible field types, or a new field while
	// schema merging is disabled.
	ErrSchemaConflict = errors.New("schema conflict")

	// ErrIngestionConflict: a concurrent commit won the race for this
	// table. Retryable — re-discover and re-run.
	ErrIngestionConflict = errors.New("ingestion conflict")

	// ErrStorageWrite: the materializer could not complete its write.
	ErrStorageWrite = errors.New("storage write failure")

	// ErrTableExists: CTAS without replace against a table that already
	// has a committed version.
	ErrTableExists = errors.New("table already exists")

	// ErrInvalidOption: unrecognized or inconsistent ingestion options.
	ErrInvalidOption = errors.New("invalid option combination")
)
