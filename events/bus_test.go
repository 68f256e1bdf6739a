package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversInRegistrationOrder(t *testing.T) {
	b := NewBus[int]()
	var order []int

	b.Subscribe(func(v int) { order = append(order, v*10+1) })
	b.Subscribe(func(v int) { order = append(order, v*10+2) })

	b.Publish(5)

	assert.Equal(t, []int{51, 52}, order)
	assert.Equal(t, 2, b.Len())
}

func TestBusPublishWithNoSubscribers(t *testing.T) {
	b := NewBus[string]()
	assert.NotPanics(t, func() { b.Publish("hello") })
}
