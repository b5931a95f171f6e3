package tablecache

// Export internal functions and variables for testing.
// This file is only compiled during tests.

// InsertForTesting inserts a fresh handle for loc into the registry that
// worker routes to, bypassing the duplicate check done by open and adopt.
func InsertForTesting(c *Controller, worker WorkerID, loc Location, table Table) {
	c.transition.RLock()
	defer c.transition.RUnlock()

	reg, err := c.registryFor(worker)
	if err != nil {
		panic(err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.insert(&Handle{reg: reg, loc: loc, table: table, mode: ReadOnly, refs: 1})
}

// WorkerRegistriesForTesting returns the number of live per-thread registries.
func WorkerRegistriesForTesting(c *Controller) int {
	c.transition.RLock()
	defer c.transition.RUnlock()

	c.workersMu.Lock()
	defer c.workersMu.Unlock()

	return len(c.workers)
}

// GenerationForTesting returns the number of completed scope switches.
func GenerationForTesting(c *Controller) uint64 {
	c.transition.RLock()
	defer c.transition.RUnlock()

	return c.generation
}
