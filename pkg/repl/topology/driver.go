package topology

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/replsetd/replsetd/pkg/repl"
)

// Task is a unit of work run on the Driver's single cooperative loop.
// cancelled is true if the task's Handle was cancelled before it ran; a
// cancelled task still runs once so it can release resources, per §4.2's
// shutdown contract.
type Task func(cancelled bool)

// Handle identifies a scheduled task and lets callers wait for or cancel it.
type Handle struct {
	id        int64
	done      chan struct{}
	cancelled atomic.Bool
}

// Wait blocks until the task completes, returning an error if the task never
// ran its intended body because it was cancelled. Re-entrant calls from the
// driver's own goroutine are forbidden and will deadlock, matching the
// source's documented hazard.
func (h *Handle) Wait() error {
	<-h.done
	if h.cancelled.Load() {
		return repl.NewError(repl.CodeShutdownInProgress, "task was cancelled")
	}
	return nil
}

type item struct {
	handle *Handle
	task   Task
	at     time.Time
	seq    int64
}

type timedQueue []*item

func (q timedQueue) Len() int { return len(q) }
func (q timedQueue) Less(i, j int) bool {
	if !q[i].at.Equal(q[j].at) {
		return q[i].at.Before(q[j].at)
	}
	return q[i].seq < q[j].seq
}
func (q timedQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *timedQueue) Push(x any)   { *q = append(*q, x.(*item)) }
func (q *timedQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// Driver is the single-threaded cooperative task executor that exclusively
// owns topology state (§4.2). Every mutation of topology state must happen
// inside a Task scheduled here; nothing else may touch it directly.
type Driver struct {
	mu       sync.Mutex
	fifo     []*item
	timed    timedQueue
	nextSeq  int64
	shutdown bool

	wake     chan struct{}
	loopDone chan struct{}
}

// NewDriver builds a Driver and starts its loop goroutine.
func NewDriver() *Driver {
	d := &Driver{
		wake:     make(chan struct{}, 1),
		loopDone: make(chan struct{}),
	}
	heap.Init(&d.timed)
	go d.run()
	return d
}

func (d *Driver) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Schedule appends a task to the FIFO queue; tasks run strictly in
// submission order relative to other FIFO tasks.
func (d *Driver) Schedule(task Task) *Handle {
	d.mu.Lock()
	d.nextSeq++
	h := &Handle{id: d.nextSeq, done: make(chan struct{})}
	if d.shutdown {
		d.mu.Unlock()
		d.runShutdown(h)
		return h
	}
	d.fifo = append(d.fifo, &item{handle: h, task: task, seq: d.nextSeq})
	d.mu.Unlock()
	d.signal()
	return h
}

// ScheduleAt runs task at or after when.
func (d *Driver) ScheduleAt(when time.Time, task Task) *Handle {
	d.mu.Lock()
	d.nextSeq++
	h := &Handle{id: d.nextSeq, done: make(chan struct{})}
	if d.shutdown {
		d.mu.Unlock()
		d.runShutdown(h)
		return h
	}
	heap.Push(&d.timed, &item{handle: h, task: task, at: when, seq: d.nextSeq})
	d.mu.Unlock()
	d.signal()
	return h
}

// runShutdown satisfies §4.2(a): a task submitted after shutdown returns a
// shutdown error without executing its body.
func (d *Driver) runShutdown(h *Handle) {
	h.cancelled.Store(true)
	close(h.done)
}

// Cancel marks a pending task's handle as cancelled. The task still runs
// once it is dequeued, observing cancelled=true, so it can release
// resources; Cancel does not remove it from the queue.
func (d *Driver) Cancel(h *Handle) {
	h.cancelled.Store(true)
}

// Wait blocks the calling goroutine until h's task completes.
func (d *Driver) Wait(h *Handle) error {
	return h.Wait()
}

// Shutdown stops accepting meaningful work: every pending task still runs
// once with its cancellation marker set, then the loop exits. Shutdown
// blocks until the loop has drained.
func (d *Driver) Shutdown() {
	d.mu.Lock()
	if d.shutdown {
		d.mu.Unlock()
		<-d.loopDone
		return
	}
	d.shutdown = true
	for _, it := range d.fifo {
		it.handle.cancelled.Store(true)
	}
	for _, it := range d.timed {
		it.handle.cancelled.Store(true)
	}
	d.mu.Unlock()
	d.signal()
	<-d.loopDone
}

func (d *Driver) run() {
	defer close(d.loopDone)
	for {
		next, waitFor, drained := d.dequeue()
		if drained {
			return
		}
		if next == nil {
			if waitFor <= 0 {
				<-d.wake
			} else {
				timer := time.NewTimer(waitFor)
				select {
				case <-d.wake:
					timer.Stop()
				case <-timer.C:
				}
			}
			continue
		}
		cancelled := next.handle.cancelled.Load()
		func() {
			defer close(next.handle.done)
			next.task(cancelled)
		}()
	}
}

// dequeue pops the next runnable item, if any. It returns drained=true only
// once shutdown has been requested and both queues are empty, telling run to
// exit. When no item is immediately runnable it returns waitFor, the
// duration until the earliest timed item becomes due (0 if there is none,
// meaning "wait indefinitely for a wake signal").
func (d *Driver) dequeue() (next *item, waitFor time.Duration, drained bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.fifo) > 0 {
		next = d.fifo[0]
		d.fifo = d.fifo[1:]
		return next, 0, false
	}
	if d.timed.Len() > 0 {
		head := d.timed[0]
		if d.shutdown || !time.Now().Before(head.at) {
			return heap.Pop(&d.timed).(*item), 0, false
		}
		return nil, time.Until(head.at), false
	}
	if d.shutdown {
		return nil, 0, true
	}
	return nil, 0, false
}
