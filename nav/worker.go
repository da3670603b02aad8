package nav

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// routeRequest is one queued search, correlated by ID
type routeRequest struct {
	ID   string
	From string
	To   string
}

// routeResponse answers the request with the same ID
type routeResponse struct {
	ID     string
	Result PathResult
	Err    error
}

type computeFunc func(from, to string) (PathResult, error)

// RouteWorker offloads searches to background goroutines. Every request has
// an id and a deadline; a timeout, a closed pool, or a crashed worker makes
// FindPath compute the route synchronously instead, so callers never hang.
type RouteWorker struct {
	compute computeFunc
	timeout time.Duration

	requests  chan routeRequest
	responses chan routeResponse

	mu      sync.Mutex
	pending map[string]chan routeResponse
	alive   int
	closed  bool

	// sendMu guards requests against being closed mid-send
	sendMu         sync.RWMutex
	requestsClosed bool

	group *errgroup.Group
}

// NewRouteWorker starts workers goroutines searching finder's graph
func NewRouteWorker(finder *Pathfinder, workers int, timeout time.Duration) *RouteWorker {
	return newRouteWorker(finder.FindPath, workers, timeout)
}

func newRouteWorker(compute computeFunc, workers int, timeout time.Duration) *RouteWorker {
	if workers < 1 {
		workers = 1
	}
	w := &RouteWorker{
		compute:   compute,
		timeout:   timeout,
		requests:  make(chan routeRequest, workers*4),
		responses: make(chan routeResponse, workers*4),
		pending:   make(map[string]chan routeResponse),
		alive:     workers,
		group:     &errgroup.Group{},
	}

	var workersDone sync.WaitGroup
	workersDone.Add(workers)
	for i := 0; i < workers; i++ {
		w.group.Go(func() error {
			defer workersDone.Done()
			return w.runWorker(i)
		})
	}
	w.group.Go(func() error {
		w.supervise()
		return nil
	})
	// responses closes once no worker can write to it
	go func() {
		workersDone.Wait()
		close(w.responses)
	}()

	return w
}

// runWorker serves requests until the queue closes or a search panics. The
// crash is returned so Close can report it.
func (w *RouteWorker) runWorker(id int) error {
	for req := range w.requests {
		if err := w.serve(id, req); err != nil {
			w.workerDied(id)
			return err
		}
	}
	return nil
}

// serve runs one request. A panic is reported back as ErrWorkerUnavailable
// for that request and ends the worker.
func (w *RouteWorker) serve(id int, req routeRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[worker] worker %d crashed on request %s: %v", id, req.ID, r)
			err = fmt.Errorf("worker %d crashed on request %s (%v): %w", id, req.ID, r, ErrWorkerUnavailable)
			w.responses <- routeResponse{ID: req.ID, Err: err}
		}
	}()

	res, searchErr := w.compute(req.From, req.To)
	w.responses <- routeResponse{ID: req.ID, Result: res, Err: searchErr}
	return nil
}

// workerDied fails every in-flight request once the last worker is gone
func (w *RouteWorker) workerDied(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.alive--
	if w.alive > 0 {
		return
	}
	log.Printf("[worker] no workers left, failing %d pending requests", len(w.pending))
	w.closed = true
	for reqID, ch := range w.pending {
		ch <- routeResponse{ID: reqID, Err: ErrWorkerUnavailable}
		delete(w.pending, reqID)
	}
	// Drain anything still queued until Close
	go func() {
		for req := range w.requests {
			log.Printf("[worker] dropping queued request %s", req.ID)
		}
	}()
}

// supervise routes responses to their waiting callers by request id
func (w *RouteWorker) supervise() {
	for resp := range w.responses {
		w.mu.Lock()
		ch, ok := w.pending[resp.ID]
		delete(w.pending, resp.ID)
		w.mu.Unlock()

		if !ok {
			log.Printf("[worker] dropping late response for request %s", resp.ID)
			continue
		}
		ch <- resp
	}
}

// FindPath searches on a worker, falling back to a synchronous search on
// timeout or worker failure. Search errors such as ErrPathNotFound are
// returned as-is.
func (w *RouteWorker) FindPath(from, to string) (PathResult, error) {
	res, err := w.submit(from, to)
	if errors.Is(err, ErrWorkerTimeout) || errors.Is(err, ErrWorkerUnavailable) {
		log.Printf("[worker] %v, computing %s -> %s synchronously", err, from, to)
		return w.compute(from, to)
	}
	return res, err
}

// submit enqueues a request and waits for its response or the deadline
func (w *RouteWorker) submit(from, to string) (PathResult, error) {
	req := routeRequest{ID: uuid.NewString(), From: from, To: to}
	reply := make(chan routeResponse, 1)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return PathResult{}, ErrWorkerUnavailable
	}
	w.pending[req.ID] = reply
	w.mu.Unlock()

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	if err := w.enqueue(req, timer); err != nil {
		w.forget(req.ID)
		return PathResult{}, err
	}

	select {
	case resp := <-reply:
		return resp.Result, resp.Err
	case <-timer.C:
		w.forget(req.ID)
		return PathResult{}, fmt.Errorf("request %s: %w", req.ID, ErrWorkerTimeout)
	}
}

func (w *RouteWorker) enqueue(req routeRequest, timer *time.Timer) error {
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if w.requestsClosed {
		return ErrWorkerUnavailable
	}
	select {
	case w.requests <- req:
		return nil
	case <-timer.C:
		return fmt.Errorf("queueing request %s: %w", req.ID, ErrWorkerTimeout)
	}
}

func (w *RouteWorker) forget(id string) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}

// Pending returns the number of requests awaiting a response
func (w *RouteWorker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Close stops accepting requests and waits for the workers to finish.
// Requests still waiting fail with ErrWorkerUnavailable. The first worker
// crash, if any, is returned.
func (w *RouteWorker) Close() error {
	w.mu.Lock()
	w.closed = true
	for id, ch := range w.pending {
		ch <- routeResponse{ID: id, Err: ErrWorkerUnavailable}
		delete(w.pending, id)
	}
	w.mu.Unlock()

	w.sendMu.Lock()
	if !w.requestsClosed {
		w.requestsClosed = true
		close(w.requests)
	}
	w.sendMu.Unlock()

	return w.group.Wait()
}
