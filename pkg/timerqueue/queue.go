/*
   Copyright 2020 Docker Compose CLI authors

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package timerqueue keeps named deadlines ordered by due time.
//
// Deadlines are absolute wall-clock instants truncated to milliseconds.
// Entries are ordered by deadline only: two entries sharing a deadline come
// out in whatever order the heap yields them, which callers must treat as
// unspecified.
package timerqueue

import (
	"container/heap"
	"time"

	"github.com/jonboulle/clockwork"
)

// ID identifies a scheduled entry so it can be cancelled.
type ID uint64

// Entry is a scheduled deadline and the name it was registered with.
type Entry[N any] struct {
	// Deadline in milliseconds, see Millis
	Deadline int64
	Name     N

	id    ID
	index int
}

func (e Entry[N]) ID() ID {
	return e.id
}

// Millis converts t to milliseconds, truncating sub-millisecond precision.
func Millis(t time.Time) int64 {
	return t.Unix()*1000 + int64(t.Nanosecond())/int64(time.Millisecond)
}

// Queue is a min-heap of deadlines. It is not safe for concurrent use.
type Queue[N any] struct {
	clock   clockwork.Clock
	entries entries[N]
	byID    map[ID]*Entry[N]
	lastID  ID
}

// New returns an empty queue reading time from clock. A nil clock means the
// real clock.
func New[N any](clock clockwork.Clock) *Queue[N] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Queue[N]{
		clock: clock,
		byID:  map[ID]*Entry[N]{},
	}
}

// Now returns the current time of the queue's clock in milliseconds.
func (q *Queue[N]) Now() int64 {
	return Millis(q.clock.Now())
}

// Schedule adds name with a deadline d from now.
func (q *Queue[N]) Schedule(d time.Duration, name N) ID {
	q.lastID++
	e := &Entry[N]{
		Deadline: Millis(q.clock.Now().Add(d)),
		Name:     name,
		id:       q.lastID,
	}
	heap.Push(&q.entries, e)
	q.byID[e.id] = e
	return e.id
}

// Earliest returns the smallest deadline without removing it.
func (q *Queue[N]) Earliest() (int64, bool) {
	if len(q.entries) == 0 {
		return 0, false
	}
	return q.entries[0].Deadline, true
}

// Remaining returns how long until the earliest deadline is due. Deadlines
// already in the past report zero.
func (q *Queue[N]) Remaining() (time.Duration, bool) {
	deadline, ok := q.Earliest()
	if !ok {
		return 0, false
	}
	left := deadline - q.Now()
	if left < 0 {
		left = 0
	}
	return time.Duration(left) * time.Millisecond, true
}

// PopEarliest removes and returns the entry with the smallest deadline,
// whether it is due or not.
func (q *Queue[N]) PopEarliest() (Entry[N], bool) {
	if len(q.entries) == 0 {
		return Entry[N]{}, false
	}
	e := heap.Pop(&q.entries).(*Entry[N])
	delete(q.byID, e.id)
	return *e, true
}

// Cancel removes a pending entry. It returns false if the entry already
// fired or was cancelled.
func (q *Queue[N]) Cancel(id ID) bool {
	e, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.entries, e.index)
	delete(q.byID, id)
	return true
}

func (q *Queue[N]) Len() int {
	return len(q.entries)
}

type entries[N any] []*Entry[N]

func (h entries[N]) Len() int { return len(h) }

// Less deliberately ignores names: equal deadlines are unordered.
func (h entries[N]) Less(i, j int) bool { return h[i].Deadline < h[j].Deadline }

func (h entries[N]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entries[N]) Push(x any) {
	e := x.(*Entry[N])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entries[N]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
