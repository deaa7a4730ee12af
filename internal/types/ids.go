// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type JobID string
type ChannelKey string

func NewJobID() JobID {
	return JobID(uuid.New().String())
}

// NewChannelKey joins parts into a delivery address such as "telegram:12345".
func NewChannelKey(parts ...string) ChannelKey {
	return ChannelKey(strings.Join(parts, ":"))
}
