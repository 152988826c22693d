package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitInSubscriptionOrder(t *testing.T) {
	r := NewRegistry[string]()
	var got []string
	r.Subscribe(func(s string) { got = append(got, "a:"+s) })
	r.Subscribe(func(s string) { got = append(got, "b:"+s) })
	r.Subscribe(func(s string) { got = append(got, "c:"+s) })

	r.Emit("x")
	assert.Equal(t, []string{"a:x", "b:x", "c:x"}, got)
}

func TestUnsubscribe(t *testing.T) {
	r := NewRegistry[int]()
	var a, b int
	unsubA := r.Subscribe(func(v int) { a += v })
	r.Subscribe(func(v int) { b += v })

	r.Emit(1)
	unsubA()
	unsubA()
	r.Emit(2)

	assert.Equal(t, 1, a)
	assert.Equal(t, 3, b)
	assert.Equal(t, 1, r.Len())
}

func TestListenerMayUnsubscribeDuringEmit(t *testing.T) {
	r := NewRegistry[int]()
	calls := 0
	var unsub func()
	unsub = r.Subscribe(func(int) {
		calls++
		unsub()
	})

	r.Emit(1)
	r.Emit(2)
	assert.Equal(t, 1, calls)
}

func TestNewHooksIsUsable(t *testing.T) {
	h := New()
	var got Restore
	h.Restore.Subscribe(func(r Restore) { got = r })
	h.Restore.Emit(Restore{ProductIDs: []string{"a", "b"}})
	assert.Equal(t, []string{"a", "b"}, got.ProductIDs)

	assert.NotPanics(t, func() {
		h.Purchase.Emit(Purchase{})
		h.Error.Emit(nil)
		h.SuccessfulPurchase.Emit(struct{}{})
		h.Event.Emit(Event{Name: EventPurchaseSuccess})
	})
}
