package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"recon-service/internal/util"
)

// IDAllocator computes the next unused id in a string-prefixed numeric
// namespace (e.g. bt_1, bt_2, ...) by scanning existing ids instead of
// keeping a central counter.
//
// The read-then-write is a known race window under concurrent allocation in
// the same namespace. Callers must persist the allocated id in the same patch
// as the status write and, on ErrDuplicateID, retry the allocation once.
type IDAllocator struct {
	store OrderStore
}

// NewIDAllocator creates an allocator over the given order store.
func NewIDAllocator(store OrderStore) *IDAllocator {
	return &IDAllocator{store: store}
}

// Next returns prefix + (max existing numeric suffix + 1), or prefix + "1"
// when the namespace is empty. Ids whose suffix does not parse as an unsigned
// integer (legacy suffixes, provisional bt_pending_* ids) are skipped.
func (a *IDAllocator) Next(ctx context.Context, prefix string) (string, error) {
	ids, err := a.store.ListOrderIDsWithPrefix(ctx, prefix)
	if err != nil {
		return "", &StoreError{Op: "list order ids", Err: err}
	}

	var max uint64
	for _, id := range ids {
		n, err := strconv.ParseUint(strings.TrimPrefix(id, prefix), 10, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}

	util.IDAllocationsTotal.WithLabelValues(prefix).Inc()
	return fmt.Sprintf("%s%d", prefix, max+1), nil
}
