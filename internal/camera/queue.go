package camera

import (
	"sync"
	"time"
)

// Command is one outbound camera command waiting in a device's queue.
type Command struct {
	Name   string
	Params map[string]any
}

// commandQueue is a bounded FIFO keyed by command name.
//
// Coalescing: enqueueing a command whose name is already queued replaces
// that entry's parameters in place instead of appending. Rapid repeated
// commands (a slider drag producing dozens of SetWebSliderEvent calls)
// therefore collapse to one send carrying the latest value, and never
// reorder relative to other command names.
//
// Overflow: when the queue holds capacity distinct commands, Put blocks the
// submitter until the poll loop drains an entry. Nothing is dropped
// silently.
type commandQueue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	items    []Command
	index    map[string]int // command name -> position in items
	capacity int
	closed   bool

	// signal wakes the single consumer; capacity 1 so Put never blocks on it.
	signal chan struct{}
}

func newCommandQueue(capacity int) *commandQueue {
	q := &commandQueue{
		index:    make(map[string]int),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Put enqueues a command, coalescing by name. Blocks while the queue is
// full. Returns ErrQueueClosed if the queue has been shut down.
func (q *commandQueue) Put(cmd Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed {
			return ErrQueueClosed
		}

		// Same command already queued: replace its parameters in place.
		if pos, ok := q.index[cmd.Name]; ok {
			q.items[pos].Params = cmd.Params
			return nil
		}

		if len(q.items) < q.capacity {
			break
		}

		// Full: block the submitter rather than dropping.
		q.notFull.Wait()
	}

	q.index[cmd.Name] = len(q.items)
	q.items = append(q.items, cmd)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return nil
}

// Get waits up to timeout for a command. Returns (cmd, true) when one is
// available, (zero, false) on timeout or when stop closes. Only one
// consumer (the poll loop) may call Get.
func (q *commandQueue) Get(timeout time.Duration, stop <-chan struct{}) (Command, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if cmd, ok := q.pop(); ok {
			return cmd, true
		}

		select {
		case <-q.signal:
			// Retry; the item may already be coalesced but is present.
		case <-timer.C:
			return Command{}, false
		case <-stop:
			return Command{}, false
		}
	}
}

// pop removes and returns the oldest command, if any.
func (q *commandQueue) pop() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Command{}, false
	}

	cmd := q.items[0]
	q.items = q.items[1:]
	delete(q.index, cmd.Name)
	for name, pos := range q.index {
		q.index[name] = pos - 1
	}

	q.notFull.Signal()
	return cmd, true
}

// Len returns the number of queued commands.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close shuts the queue down. Blocked submitters are released with
// ErrQueueClosed; queued commands are discarded.
func (q *commandQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.index = make(map[string]int)
	q.mu.Unlock()

	q.notFull.Broadcast()
}
