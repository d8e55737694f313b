package session

import "github.com/oklog/ulid/v2"

// newCredentialID returns a fresh ULID for a credential row.
func newCredentialID() string {
	return ulid.Make().String()
}
