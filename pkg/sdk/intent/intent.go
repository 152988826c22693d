// Package intent remembers which screen started each in-flight payment.
// Platform transactions carry no business context, so the reconciler records
// it here when a purchase is requested and consumes it at the terminal state.
//
// A Tracker is in-memory and not safe for concurrent use.
package intent

// Source is the business context that initiated a purchase.
type Source struct {
	ScreenID   string `json:"screen_id"`
	ScreenName string `json:"screen_name"`
	Course     string `json:"course,omitempty"`
}

// DefaultSource is attributed when the initiating context is unknown, for
// example after a restart in the middle of a purchase.
var DefaultSource = Source{ScreenID: "unknown", ScreenName: "unknown"}

// IsZero reports whether s carries no context.
func (s Source) IsZero() bool {
	return s == Source{}
}

type entry struct {
	productID string
	source    Source
}

// Tracker maps payment keys (correlation tokens) to sources.
type Tracker struct {
	byKey     map[string]entry
	byProduct map[string][]string // product -> keys, oldest first
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byKey:     make(map[string]entry),
		byProduct: make(map[string][]string),
	}
}

// Record stores source under key for a payment of productID.
func (t *Tracker) Record(key, productID string, source Source) {
	if _, exists := t.byKey[key]; exists {
		t.Remove(key)
	}
	t.byKey[key] = entry{productID: productID, source: source}
	t.byProduct[productID] = append(t.byProduct[productID], key)
}

// Lookup returns the source recorded under key.
func (t *Tracker) Lookup(key string) (Source, bool) {
	e, ok := t.byKey[key]
	return e.source, ok
}

// LookupProduct is the fallback for records that come back without a key.
// With several pending payments of the same product it returns the oldest
// one, which may be the wrong screen.
func (t *Tracker) LookupProduct(productID string) (string, Source, bool) {
	keys := t.byProduct[productID]
	if len(keys) == 0 {
		return "", Source{}, false
	}
	key := keys[0]
	return key, t.byKey[key].source, true
}

// Resolve finds the intent for a transaction by key, then by product.
func (t *Tracker) Resolve(key, productID string) (string, Source, bool) {
	if key != "" {
		if src, ok := t.Lookup(key); ok {
			return key, src, true
		}
	}
	return t.LookupProduct(productID)
}

// Remove drops the intent under key.
func (t *Tracker) Remove(key string) {
	e, ok := t.byKey[key]
	if !ok {
		return
	}
	delete(t.byKey, key)

	keys := t.byProduct[e.productID]
	for i, k := range keys {
		if k == key {
			keys = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	if len(keys) == 0 {
		delete(t.byProduct, e.productID)
	} else {
		t.byProduct[e.productID] = keys
	}
}

// Len returns the number of pending intents.
func (t *Tracker) Len() int {
	return len(t.byKey)
}
