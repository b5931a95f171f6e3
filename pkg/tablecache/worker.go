package tablecache

import "github.com/google/uuid"

// WorkerID names a unit of execution that owns a per-thread registry.
//
// Go has no addressable thread identity, so callers pick the ID: typically one
// per long-lived goroutine, obtained from [NewWorkerID].
type WorkerID string

// NewWorkerID returns a fresh random ID.
func NewWorkerID() WorkerID {
	return WorkerID(uuid.NewString())
}

// Worker binds a [WorkerID] to a [Controller] so the ID need not be repeated
// on every call. Under [ProcessWide] the ID is ignored.
type Worker struct {
	ctl *Controller
	id  WorkerID
}

// ID returns the worker's ID.
func (w *Worker) ID() WorkerID {
	return w.id
}

// Open is [Controller.Open] for this worker.
func (w *Worker) Open(path string, mode LockMode) (*Handle, error) {
	return w.ctl.Open(w.id, path, mode)
}

// OpenLocation is [Controller.OpenLocation] for this worker.
func (w *Worker) OpenLocation(loc Location, mode LockMode) (*Handle, error) {
	return w.ctl.OpenLocation(w.id, loc, mode)
}

// Adopt is [Controller.Adopt] for this worker.
func (w *Worker) Adopt(loc Location, table Table, mode LockMode) (*Handle, error) {
	return w.ctl.Adopt(w.id, loc, table, mode)
}

// Retire is [Controller.Retire] for this worker.
func (w *Worker) Retire() error {
	return w.ctl.Retire(w.id)
}
