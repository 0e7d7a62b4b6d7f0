// Package ids generates identifiers for records created by the gateway.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewUID returns a unique identifier suitable for an iCalendar or vCard
// UID property: a timestamp plus random suffix, qualified with a domain.
func NewUID() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return fmt.Sprintf("%d-%s@davgate", time.Now().UnixNano(), hex.EncodeToString(buf))
}
