package live

import (
	"container/heap"
	"time"

	"github.com/psds-microservice/live-session-service/internal/model"
)

// captionEntry is one caption waiting for its translations and its release time.
type captionEntry struct {
	seq      int64
	start    float64
	deadline time.Time
	ready    bool
	// live is false for stragglers that arrived after a later caption was delivered; they are
	// stored but never sent.
	live  bool
	view  model.CaptionView
	index int
}

type captionHeap []*captionEntry

func (h captionHeap) Len() int { return len(h) }

func (h captionHeap) Less(i, j int) bool {
	if h[i].start == h[j].start {
		return h[i].seq < h[j].seq
	}
	return h[i].start < h[j].start
}

func (h captionHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *captionHeap) Push(x any) {
	e := x.(*captionEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *captionHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// captionBuffer re-orders captions by start time. An entry is released once it is ready and
// its deadline has passed; releases never go backwards in start time.
type captionBuffer struct {
	h             captionHeap
	seq           int64
	lastDelivered float64
	delivered     bool
}

func newCaptionBuffer() *captionBuffer {
	return &captionBuffer{}
}

// add registers a caption with the given start time. The entry is not ready until markReady.
func (b *captionBuffer) add(start float64, deadline time.Time) *captionEntry {
	b.seq++
	e := &captionEntry{seq: b.seq, start: start, deadline: deadline, index: -1}
	if b.delivered && start < b.lastDelivered {
		return e
	}
	e.live = true
	heap.Push(&b.h, e)
	return e
}

// markReady attaches the final view to the entry.
func (b *captionBuffer) markReady(e *captionEntry, view model.CaptionView) {
	e.view = view
	e.ready = true
}

// release pops every entry that may be delivered at now, in start-time order.
func (b *captionBuffer) release(now time.Time) []*captionEntry {
	var out []*captionEntry
	for b.h.Len() > 0 {
		head := b.h[0]
		if !head.ready || now.Before(head.deadline) {
			break
		}
		heap.Pop(&b.h)
		b.lastDelivered = head.start
		b.delivered = true
		out = append(out, head)
	}
	return out
}

// next returns when the head becomes releasable. ok is false if the buffer is empty or the head
// is still waiting for translations.
func (b *captionBuffer) next() (time.Time, bool) {
	if b.h.Len() == 0 || !b.h[0].ready {
		return time.Time{}, false
	}
	return b.h[0].deadline, true
}

func (b *captionBuffer) len() int { return b.h.Len() }

func (b *captionBuffer) reset() {
	b.h = nil
}
