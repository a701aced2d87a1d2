package loader

import (
	"context"
	"fmt"

	"github.com/platinummonkey/modhub/pkg/plugins"
)

// Notifier is the user-facing sink for progress, consent and failure notices
type Notifier interface {
	Progress(msg string)
	Confirm(msg string) bool
	Alert(msg string)
}

// Policy decides whether a record may be built at all
type Policy interface {
	// Allow reports whether rec may be built. notifier may be nil; bulk is set in diagnostic mode.
	Allow(ctx context.Context, rec *plugins.Record, notifier Notifier, bulk bool) bool
}

// TrustPolicy allows records from trusted sources and asks the notifier about
// the rest. Without a notifier, or in bulk mode, untrusted records are denied.
type TrustPolicy struct{}

// Allow implements Policy
func (TrustPolicy) Allow(ctx context.Context, rec *plugins.Record, notifier Notifier, bulk bool) bool {
	if rec.Trusted {
		return true
	}
	if notifier == nil || bulk {
		return false
	}
	return notifier.Confirm(fmt.Sprintf("%s comes from untrusted source %q. Build it anyway?", rec.Label(), rec.SourceLabel))
}

// AllowAll allows every record
type AllowAll struct{}

// Allow implements Policy
func (AllowAll) Allow(context.Context, *plugins.Record, Notifier, bool) bool {
	return true
}
