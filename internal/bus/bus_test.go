package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitDispatchesInSubscriptionOrder(t *testing.T) {
	b := New()
	var order []int
	b.Subscribe(Focus, func(any) { order = append(order, 1) })
	b.Subscribe(Focus, func(any) { order = append(order, 2) })
	b.Emit(Focus, nil)
	assert.Equal(t, []int{1, 2}, order)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	tok := b.Subscribe(Output, func(any) { calls++ })
	b.Emit(Output, nil)
	b.Unsubscribe(tok)
	b.Emit(Output, nil)
	assert.Equal(t, 1, calls)
}

func TestHandlerMaySubscribeDuringDispatch(t *testing.T) {
	b := New()
	var late bool
	b.Subscribe(Input, func(any) {
		b.Subscribe(Input, func(any) { late = true })
	})
	b.Emit(Input, nil) // registers the late subscriber, must not call it yet
	assert.False(t, late)
	b.Emit(Input, nil) // now it's present
	assert.True(t, late)
}

func TestHandlerMayUnsubscribeItself(t *testing.T) {
	b := New()
	var tok Token
	calls := 0
	tok = b.Subscribe(Selection, func(any) {
		calls++
		b.Unsubscribe(tok)
	})
	b.Emit(Selection, nil)
	b.Emit(Selection, nil)
	assert.Equal(t, 1, calls)
}

func TestKindsAreIndependent(t *testing.T) {
	b := New()
	focusCalls, outputCalls := 0, 0
	b.Subscribe(Focus, func(any) { focusCalls++ })
	b.Subscribe(Output, func(any) { outputCalls++ })
	b.Emit(Focus, nil)
	assert.Equal(t, 1, focusCalls)
	assert.Equal(t, 0, outputCalls)
}
