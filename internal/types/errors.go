package types

import "errors"

// Error taxonomy. Only ErrRetrieval is fatal to a query turn; everything else
// degrades visibly in the answer's provenance or ledger.
var (
	// ErrRetrieval means the vector index was unreachable or erroring.
	// The turn cannot proceed without candidates, so this aborts it.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrVerification means a live fetch failed for a specific issue key.
	// The key's volatile facts degrade to "unverified"; the turn continues.
	ErrVerification = errors.New("verification failed")

	// ErrCacheConflict means two concurrent downloads raced on the same
	// content hash. The loser discards its copy and uses the winner's entry.
	ErrCacheConflict = errors.New("cache write conflict")
)
