package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cellmesh/cellmesh/pkg/kernel"
)

func TestRequestRun_CoalescesRepeatedRequestsBeforeDispatch(t *testing.T) {
	var mu sync.Mutex
	var dispatched []string
	release := make(chan struct{})

	first := true
	send := func(req kernel.Request) {
		mu.Lock()
		dispatched = append(dispatched, req.CellID)
		blockFirst := first
		first = false
		mu.Unlock()
		if blockFirst {
			<-release
		}
	}

	s := New(send)
	s.RequestRun("c1")
	// These are coalesced: c1's first run hasn't been dispatched yet.
	s.RequestRun("c1")
	s.RequestRun("c1")
	close(release)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dispatched) == 1
	}, time.Second, time.Millisecond)
}

func TestRequestRun_DispatchesEachDistinctCell(t *testing.T) {
	var mu sync.Mutex
	var dispatched []string
	send := func(req kernel.Request) {
		mu.Lock()
		dispatched = append(dispatched, req.CellID)
		mu.Unlock()
	}

	s := New(send)
	s.RequestRun("c1")
	s.RequestRun("c2")
	s.RequestRun("c3")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dispatched) == 3
	}, time.Second, time.Millisecond)
}
