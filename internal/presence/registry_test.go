package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBindAndUnbind(t *testing.T) {
	r := NewRegistry()

	r.Bind("alice", "c1")
	r.Bind("alice", "c2")
	r.Bind("bob", "c3")

	assert.ElementsMatch(t, []string{"c1", "c2"}, r.ConnectionsFor("alice"))
	assert.Equal(t, []string{"alice", "bob"}, r.DistinctUsers())

	r.Unbind("alice", "c1")
	assert.ElementsMatch(t, []string{"c2"}, r.ConnectionsFor("alice"))

	// Last connection gone: user drops out of the distinct set.
	r.Unbind("alice", "c2")
	assert.Empty(t, r.ConnectionsFor("alice"))
	assert.Equal(t, []string{"bob"}, r.DistinctUsers())
}

func TestUnbindUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Unbind("ghost", "c1")
	assert.Empty(t, r.DistinctUsers())
}

func TestRebindNeverUnderBothUsers(t *testing.T) {
	r := NewRegistry()

	r.Bind("alice", "c1")
	r.Rebind("alice", "bob", "c1")

	assert.Empty(t, r.ConnectionsFor("alice"))
	assert.ElementsMatch(t, []string{"c1"}, r.ConnectionsFor("bob"))
	assert.Equal(t, []string{"bob"}, r.DistinctUsers())
}

func TestConcurrentBindUnbind(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connID := fmt.Sprintf("c%d", i)
			r.Bind("alice", connID)
			r.ConnectionsFor("alice")
			r.Rebind("alice", "bob", connID)
			r.Unbind("bob", connID)
		}(i)
	}
	wg.Wait()

	assert.Empty(t, r.ConnectionsFor("alice"))
	assert.Empty(t, r.ConnectionsFor("bob"))
	assert.Empty(t, r.DistinctUsers())
}
