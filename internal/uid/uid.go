// Package uid generates the client request IDs attached to outbound requests.
package uid

import (
	"github.com/google/uuid"
)

// New returns a random version 4 UUID string, suitable for the
// x-ms-client-request-id header.
func New() string {
	return uuid.NewString()
}
