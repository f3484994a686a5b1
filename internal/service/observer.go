package service

// Observer receives progress notifications from the ingestion pipeline.
// Implementations must be safe for concurrent use; OnEntityResolved is called
// from many goroutines at once.
type Observer interface {
	// OnPageFetched is called after listing page n (1-based) was read.
	OnPageFetched(n int)

	// OnEntityResolved is called once a character is fully assembled and resolved.
	// It fires before the snapshot invariants are applied, so a resolved
	// character may still be dropped; RunResult.Persisted counts what was stored.
	OnEntityResolved(id int64)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) OnPageFetched(int)      {}
func (NopObserver) OnEntityResolved(int64) {}

// Observers fans notifications out to several observers.
type Observers []Observer

func (o Observers) OnPageFetched(n int) {
	for _, obs := range o {
		obs.OnPageFetched(n)
	}
}

func (o Observers) OnEntityResolved(id int64) {
	for _, obs := range o {
		obs.OnEntityResolved(id)
	}
}

func orNop(o Observer) Observer {
	if o == nil {
		return NopObserver{}
	}
	return o
}
