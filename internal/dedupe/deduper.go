package dedupe

import "context"

// Deduper answers whether an id was already claimed by someone else in the fleet
type Deduper interface {
	// alreadySeen=true -> another owner holds the id, skip the work.
	// A claim held by the caller itself is not "seen".
	Seen(ctx context.Context, id string) (alreadySeen bool, err error)
	// Release drops the claim when the caller owns it
	Release(ctx context.Context, id string) error
}
