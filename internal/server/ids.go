package server

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// newMessageId combines the sender identity, wall-clock time and a
// random component so ids stay unique across channels, tabs and
// reconnects.
func newMessageId(senderId string) string {
	return fmt.Sprintf("%s-%d-%s", senderId, time.Now().UnixMilli(), uuid.NewString()[:8])
}
