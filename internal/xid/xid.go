package xid

import "github.com/google/uuid"

// New returns a random id such as "item-0b6c1f2e-...". The prefix keeps ids
// readable in logs and audit rows.
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
