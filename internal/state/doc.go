// Package state provides filesystem-backed storage: the job journal and the
// scheduled meeting store.
package state

import (
	"time"

	"github.com/user/meetbot/internal/types"
)

// Compile-time interface compliance check.
var _ types.JobJournal = (*JobJournal)(nil)

const lockRetryDelay = 50 * time.Millisecond
