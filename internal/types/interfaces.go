// internal/types/interfaces.go
package types

import (
	"context"
)

// JobJournal records settled jobs in arrival order.
type JobJournal interface {
	Append(ctx context.Context, record *JobRecord) error
	Tail(ctx context.Context, limit int) ([]*JobRecord, error)
	Count(ctx context.Context) (int64, error)
}
