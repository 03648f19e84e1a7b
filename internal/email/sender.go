// Package email delivers transactional account notices: suspensions,
// reinstatements, and dispute outcomes. Delivery is always best-effort;
// callers log failures and continue rather than failing the operation
// that triggered the notice.
package email

import "context"

// Sender delivers a plain-text message to a single recipient.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}
