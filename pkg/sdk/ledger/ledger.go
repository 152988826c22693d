// Package ledger keeps the durable set of transaction identifiers the SDK has
// already granted. A Ledger is not safe for concurrent use; the reconciler
// owns it and touches it only from its serialized loop.
//
// A plain set is persisted as a JSON array of ids. Once any id carries an
// Entry the set is persisted as a JSON object keyed by id instead; Load
// accepts both forms.
package ledger

import (
	"context"
	"encoding/json"
	"purchase-sync/pkg/logging"
	"purchase-sync/pkg/sdk/storage"
	"sort"
)

// Entry is what is remembered about one id.
type Entry struct {
	ProductID  string `json:"product_id,omitempty"`
	OriginalID string `json:"original_id,omitempty"`
	Restored   bool   `json:"restored,omitempty"`
}

// Ledger is a set of identifiers persisted under one key.
type Ledger struct {
	store storage.Store
	key   string
	ids   map[string]Entry
	dirty bool
}

// Load reads the set stored under key. A read or decode failure yields an
// empty set: dedup fails open and the server is asked again.
func Load(ctx context.Context, store storage.Store, key string) *Ledger {
	l := &Ledger{store: store, key: key, ids: make(map[string]Entry)}

	raw, err := store.Get(ctx, key)
	if err != nil {
		logging.Errorf("Failed to read ledger %s, starting empty: %v", key, err)
		return l
	}
	if len(raw) == 0 {
		return l
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err == nil {
		for _, id := range ids {
			l.ids[id] = Entry{}
		}
		return l
	}
	entries := make(map[string]Entry)
	if err := json.Unmarshal(raw, &entries); err != nil {
		logging.Errorf("Failed to decode ledger %s, starting empty: %v", key, err)
		return l
	}
	for id, e := range entries {
		if id != "" {
			l.ids[id] = e
		}
	}
	return l
}

// Contains reports whether id was recorded.
func (l *Ledger) Contains(id string) bool {
	if id == "" {
		return false
	}
	_, ok := l.ids[id]
	return ok
}

// Insert adds ids and persists the set. A write failure is logged and the
// whole set is written again on the next mutation.
func (l *Ledger) Insert(ctx context.Context, ids ...string) {
	changed := false
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := l.ids[id]; !ok {
			l.ids[id] = Entry{}
			changed = true
		}
	}
	if changed || l.dirty {
		l.persist(ctx)
	}
}

// Put records id with e, replacing what was known about it.
func (l *Ledger) Put(ctx context.Context, id string, e Entry) {
	if id == "" {
		return
	}
	if old, ok := l.ids[id]; ok && old == e && !l.dirty {
		return
	}
	l.ids[id] = e
	l.persist(ctx)
}

// Lookup returns the entry recorded for id.
func (l *Ledger) Lookup(id string) (Entry, bool) {
	e, ok := l.ids[id]
	return e, ok
}

// Remove drops ids from the set.
func (l *Ledger) Remove(ctx context.Context, ids ...string) {
	changed := false
	for _, id := range ids {
		if _, ok := l.ids[id]; ok {
			delete(l.ids, id)
			changed = true
		}
	}
	if changed || l.dirty {
		l.persist(ctx)
	}
}

// Snapshot returns a copy of the set.
func (l *Ledger) Snapshot() map[string]struct{} {
	out := make(map[string]struct{}, len(l.ids))
	for id := range l.ids {
		out[id] = struct{}{}
	}
	return out
}

// IDs returns the identifiers sorted.
func (l *Ledger) IDs() []string {
	ids := make([]string, 0, len(l.ids))
	for id := range l.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of identifiers.
func (l *Ledger) Len() int {
	return len(l.ids)
}

// Replace swaps the whole set. Only an explicit app-level reset should
// shrink the set.
func (l *Ledger) Replace(ctx context.Context, ids map[string]struct{}) {
	l.ids = make(map[string]Entry, len(ids))
	for id := range ids {
		l.ids[id] = Entry{}
	}
	l.persist(ctx)
}

// Dirty reports whether the last write failed.
func (l *Ledger) Dirty() bool {
	return l.dirty
}

func (l *Ledger) persist(ctx context.Context) {
	raw, err := l.encode()
	if err != nil {
		logging.Errorf("Failed to encode ledger %s: %v", l.key, err)
		l.dirty = true
		return
	}
	if err := l.store.Set(ctx, l.key, raw); err != nil {
		logging.Errorf("Failed to write ledger %s, will retry on next change: %v", l.key, err)
		l.dirty = true
		return
	}
	l.dirty = false
}

func (l *Ledger) encode() ([]byte, error) {
	for _, e := range l.ids {
		if e != (Entry{}) {
			return json.Marshal(l.ids)
		}
	}
	return json.Marshal(l.IDs())
}
