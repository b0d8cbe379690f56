package pagination

import (
	"context"

	"github.com/google/uuid"
)

// FetchFunc returns up to limit rows whose key sorts after the given key.
// uuid.Nil starts from the beginning.
type FetchFunc[T any] func(ctx context.Context, after uuid.UUID, limit int) ([]T, error)

// EachBatch walks a keyset-paginated result in batches of size, calling fn
// for each batch. Rows changed by fn do not shift later pages, so fn may
// update the rows that made them eligible.
func EachBatch[T any](ctx context.Context, size int, fetch FetchFunc[T], key func(T) uuid.UUID, fn func(ctx context.Context, batch []T) error) error {
	if size <= 0 {
		size = DefaultLimit
	}
	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := fetch(ctx, after, size)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(ctx, batch); err != nil {
			return err
		}
		if len(batch) < size {
			return nil
		}
		after = key(batch[len(batch)-1])
	}
}
