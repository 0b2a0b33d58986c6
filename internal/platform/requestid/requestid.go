// Package requestid generates identifiers for inbound requests.
package requestid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random identifier as 32 lowercase hex characters.
func New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}
