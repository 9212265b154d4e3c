package businessflow

import (
	"context"
	"fmt"

	"github.com/parsclinic/clinic-core/repository"
)

// IdentifierAllocator combines the atomic sequence repository with the pure
// formatter. It is the only path that issues display identifiers; callers
// never synthesize one locally, and there is no non-atomic fallback when the
// store is unreachable.
type IdentifierAllocator struct {
	seqRepo repository.SequenceCounterRepository
}

// NewIdentifierAllocator creates a new identifier allocator
func NewIdentifierAllocator(seqRepo repository.SequenceCounterRepository) *IdentifierAllocator {
	return &IdentifierAllocator{seqRepo: seqRepo}
}

// Allocate draws the next sequence value for the entity kind's scope key and
// renders the display identifier. Storage failures surface as
// ErrAllocationUnavailable; callers retry with backoff.
func (a *IdentifierAllocator) Allocate(ctx context.Context, entityKind string, idCtx IdentifierContext) (string, int64, error) {
	scopeKey, err := ScopeKeyFor(entityKind, idCtx)
	if err != nil {
		return "", 0, err
	}
	tpl, err := TemplateFor(entityKind)
	if err != nil {
		return "", 0, err
	}

	value, err := a.seqRepo.Next(ctx, scopeKey, tpl.Granularity)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrAllocationUnavailable, err)
	}

	id, err := FormatIdentifier(entityKind, value, idCtx)
	if err != nil {
		return "", 0, err
	}

	return id, value, nil
}
