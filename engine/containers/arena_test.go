package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArenaRecyclesIDs(t *testing.T) {
	a := NewArena[string]()
	x := a.Insert("x")
	y := a.Insert("y")
	assert.NotEqual(t, x, y)
	assert.Equal(t, 2, a.Len())

	assert.True(t, a.Remove(x))
	assert.False(t, a.Remove(x))
	_, ok := a.Get(x)
	assert.False(t, ok)

	z := a.Insert("z")
	assert.Equal(t, x, z)
	v, ok := a.Get(z)
	assert.True(t, ok)
	assert.Equal(t, "z", v)

	_, ok = a.Get(InvalidID)
	assert.False(t, ok)
}

func TestArenaEachInIDOrder(t *testing.T) {
	a := NewArena[int]()
	for i := 0; i < 4; i++ {
		a.Insert(i * 10)
	}
	a.Remove(1)

	var ids []uint32
	var vals []int
	a.Each(func(id uint32, v int) {
		ids = append(ids, id)
		vals = append(vals, v)
	})
	assert.Equal(t, []uint32{0, 2, 3}, ids)
	assert.Equal(t, []int{0, 20, 30}, vals)
}
