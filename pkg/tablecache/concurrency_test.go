package tablecache_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/tablecache/pkg/tablecache"
)

func Test_Open_Returns_Identical_Handle_When_Goroutines_Race_ProcessWide(t *testing.T) {
	t.Parallel()

	ctl, engine := newTestController(t, tablecache.ProcessWide)
	engine.delay = 2 * time.Millisecond

	const numGoroutines = 16

	start := make(chan struct{})
	handles := make([]*tablecache.Handle, numGoroutines)

	var g errgroup.Group

	for i := range numGoroutines {
		g.Go(func() error {
			<-start

			h, err := ctl.OpenLocation(tablecache.WorkerID(fmt.Sprintf("w%d", i)), locA, tablecache.ReadOnly)
			if err != nil {
				return err
			}

			handles[i] = h

			return nil
		})
	}

	close(start)

	err := g.Wait()
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for i, h := range handles {
		if h != handles[0] {
			t.Fatalf("goroutine %d got a distinct handle", i)
		}
	}

	if got := handles[0].RefCount(); got != numGoroutines {
		t.Fatalf("RefCount() = %d, want %d", got, numGoroutines)
	}

	if got := engine.openCount(locA); got != 1 {
		t.Fatalf("engine opened %d times, want 1", got)
	}
}

func Test_Open_Returns_Per_Worker_Handle_When_Goroutines_Race_PerThread(t *testing.T) {
	t.Parallel()

	ctl, engine := newTestController(t, tablecache.PerThread)

	const (
		numWorkers = 8
		opensEach  = 4
	)

	var (
		mu   sync.Mutex
		seen = make(map[tablecache.WorkerID]map[*tablecache.Handle]struct{})
	)

	var g errgroup.Group

	for i := range numWorkers {
		id := tablecache.WorkerID(fmt.Sprintf("w%d", i))

		for range opensEach {
			g.Go(func() error {
				h, err := ctl.OpenLocation(id, locA, tablecache.ReadOnly)
				if err != nil {
					return err
				}

				mu.Lock()
				defer mu.Unlock()

				if seen[id] == nil {
					seen[id] = make(map[*tablecache.Handle]struct{})
				}

				seen[id][h] = struct{}{}

				return nil
			})
		}
	}

	err := g.Wait()
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	distinct := make(map[*tablecache.Handle]struct{})

	for id, hs := range seen {
		if len(hs) != 1 {
			t.Fatalf("worker %s got %d handles, want 1", id, len(hs))
		}

		for h := range hs {
			distinct[h] = struct{}{}

			if got := h.RefCount(); got != opensEach {
				t.Fatalf("worker %s RefCount() = %d, want %d", id, got, opensEach)
			}
		}
	}

	if len(distinct) != numWorkers {
		t.Fatalf("%d distinct handles, want %d", len(distinct), numWorkers)
	}

	if got := engine.openCount(locA); got != numWorkers {
		t.Fatalf("engine opened %d times, want %d", got, numWorkers)
	}
}

// Opens racing a switch either land before it (and are invalidated by it)
// or after it (and belong to the new scope). None survive from the old one.
func Test_Switch_Leaves_No_Stale_Handle_When_Racing_Opens(t *testing.T) {
	t.Parallel()

	ctl, _ := newTestController(t, tablecache.ProcessWide)

	const numGoroutines = 8

	var (
		mu      sync.Mutex
		handles []*tablecache.Handle
	)

	var g errgroup.Group

	for i := range numGoroutines {
		g.Go(func() error {
			for range 50 {
				h, err := ctl.OpenLocation(tablecache.WorkerID(fmt.Sprintf("w%d", i)), locA, tablecache.ReadOnly)
				if err != nil {
					return err
				}

				mu.Lock()
				handles = append(handles, h)
				mu.Unlock()
			}

			return nil
		})
	}

	g.Go(func() error {
		for range 10 {
			err := ctl.UseThreadLocal()
			if err != nil {
				return err
			}

			err = ctl.UseProcessWide()
			if err != nil {
				return err
			}
		}

		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, tablecache.ErrClosed) {
		t.Fatalf("unexpected error: %v", err)
	}

	final := tablecache.GenerationForTesting(ctl)

	for _, h := range handles {
		if h.Owner().Generation != final && !h.Closed() {
			t.Fatalf("handle from generation %d still live at generation %d", h.Owner().Generation, final)
		}
	}
}
