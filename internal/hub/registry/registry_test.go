package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnGeneratesID(t *testing.T) {
	r := New[string]("test")
	id := r.On(func(string) {})
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, r.Count())
}

func TestOnWithSuppliedID(t *testing.T) {
	r := New[string]("test")
	id := r.On(func(string) {}, "my-handler")
	assert.Equal(t, "my-handler", id)
	assert.Equal(t, []string{"my-handler"}, r.IDs())
}

func TestOnReplacesExistingID(t *testing.T) {
	r := New[string]("test")
	var got string
	r.On(func(string) { got = "first" }, "h")
	r.On(func(string) { got = "second" }, "h")

	assert.Equal(t, 1, r.Count())
	r.Fire("x")
	assert.Equal(t, "second", got)
}

func TestOffRemovesAndReports(t *testing.T) {
	r := New[int]("test")
	id := r.On(func(int) {})
	assert.True(t, r.Off(id))
	assert.Equal(t, 0, r.Count())
	assert.False(t, r.Off(id))
}

func TestClear(t *testing.T) {
	r := New[int]("test")
	r.On(func(int) {})
	r.On(func(int) {})
	r.Clear()
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.IDs())
}

func TestFireInRegistrationOrder(t *testing.T) {
	r := New[int]("test")
	var order []string
	r.On(func(int) { order = append(order, "a") }, "a")
	r.On(func(int) { order = append(order, "b") }, "b")
	r.On(func(int) { order = append(order, "c") }, "c")

	r.Fire(1)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestFireIsolatesPanics(t *testing.T) {
	r := New[int]("test")
	var first, third bool
	r.On(func(int) { first = true }, "first")
	r.On(func(int) { panic("boom") }, "middle")
	r.On(func(int) { third = true }, "third")

	require.NotPanics(t, func() { r.Fire(42) })
	assert.True(t, first)
	assert.True(t, third)
}

func TestCallbackMayMutateRegistryMidFire(t *testing.T) {
	r := New[int]("test")
	var later bool
	r.On(func(int) {
		r.Clear()
		r.On(func(int) { later = true }, "added-mid-fire")
	}, "self-clearing")
	r.On(func(int) {}, "sibling")

	require.NotPanics(t, func() { r.Fire(1) })
	// the fan-out ran over the snapshot; the new subscriber fires next time
	assert.False(t, later)
	r.Fire(2)
	assert.True(t, later)
}

func TestFirePayloadDelivered(t *testing.T) {
	type msg struct{ Text string }
	r := New[msg]("test")
	var got msg
	r.On(func(m msg) { got = m })
	r.Fire(msg{Text: "hello"})
	assert.Equal(t, "hello", got.Text)
}
