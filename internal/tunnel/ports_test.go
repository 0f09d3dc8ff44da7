package tunnel

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortAllocator_AscendingOrder(t *testing.T) {
	a := NewPortAllocator()

	p1, err := a.Allocate("first")
	require.NoError(t, err)
	assert.Equal(t, PortRangeStart, p1)

	p2, err := a.Allocate("second")
	require.NoError(t, err)
	assert.Equal(t, PortRangeStart+1, p2)
}

func TestPortAllocator_IdempotentPerName(t *testing.T) {
	a := NewPortAllocator()

	p1, err := a.Allocate("db")
	require.NoError(t, err)

	p2, err := a.Allocate("db")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)

	owner, ok := a.Owner(p1)
	require.True(t, ok)
	assert.Equal(t, "db", owner)
}

func TestPortAllocator_ReusesLowestAfterDeallocate(t *testing.T) {
	a := NewPortAllocator()

	p1, err := a.Allocate("one")
	require.NoError(t, err)
	_, err = a.Allocate("two")
	require.NoError(t, err)

	a.Deallocate(p1)

	p3, err := a.Allocate("three")
	require.NoError(t, err)
	assert.Equal(t, p1, p3)
}

func TestPortAllocator_SkipsPortBoundElsewhere(t *testing.T) {
	// Occupy the first port of the range from outside the allocator.
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", PortRangeStart))
	if err != nil {
		t.Skipf("cannot bind port %d: %v", PortRangeStart, err)
	}
	defer l.Close()

	a := NewPortAllocator()
	p, err := a.Allocate("db")
	require.NoError(t, err)
	assert.Equal(t, PortRangeStart+1, p)
}

func TestPortAllocator_Exhaustion(t *testing.T) {
	a := NewPortAllocator()

	for i := PortRangeStart; i <= PortRangeEnd; i++ {
		_, err := a.Allocate(fmt.Sprintf("conn-%d", i))
		require.NoError(t, err)
	}

	_, err := a.Allocate("one-too-many")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPortsExhausted)
}

func TestPortAllocator_DeallocateUnknownPort(t *testing.T) {
	a := NewPortAllocator()
	// Must not panic or disturb other state.
	a.Deallocate(PortRangeStart + 5)

	p, err := a.Allocate("db")
	require.NoError(t, err)
	assert.Equal(t, PortRangeStart, p)
}
