package domain

import "sort"

// TimeObserver is a {targetTime, callback, id} triple registered against a
// MoviePlayer session.
type TimeObserver struct {
	ID         int64
	TargetTime Timestamp
	Callback   func()
}

// ObserverList keeps the total set of registered observers sorted by
// TargetTime descending, plus an "active" sublist rebuilt at each play
// session start and after each successful seek: exactly those observers
// whose target lies within the active play range.
//
// This type does no internal locking; callers serialize all observer
// mutation on a single owner goroutine.
type ObserverList struct {
	nextID int64
	all    []TimeObserver
	active []TimeObserver
}

func NewObserverList() *ObserverList {
	return &ObserverList{}
}

// Add registers an observer and returns its handle id.
func (l *ObserverList) Add(target Timestamp, cb func()) int64 {
	l.nextID++
	id := l.nextID
	l.all = append(l.all, TimeObserver{ID: id, TargetTime: target, Callback: cb})
	sort.SliceStable(l.all, func(i, j int) bool {
		return l.all[i].TargetTime.After(l.all[j].TargetTime)
	})
	return id
}

// Remove drops one observer by handle id.
func (l *ObserverList) Remove(id int64) {
	l.all = removeByID(l.all, id)
	l.active = removeByID(l.active, id)
}

func removeByID(list []TimeObserver, id int64) []TimeObserver {
	for i, o := range list {
		if o.ID == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// RemoveAll clears every registered observer, total and active.
func (l *ObserverList) RemoveAll() {
	l.all = nil
	l.active = nil
}

// RebuildActive recomputes the active sublist as the subset of the total
// set whose TargetTime lies in [start, end]. Called at each playback start
// and after every successful seek.
func (l *ObserverList) RebuildActive(start, end Timestamp) {
	active := make([]TimeObserver, 0, len(l.all))
	for _, o := range l.all {
		if !o.TargetTime.Before(start) && !o.TargetTime.After(end) {
			active = append(active, o)
		}
	}
	l.active = active
}

// PopDue removes and returns, in ascending target-time order, every active
// observer whose TargetTime is at or before current. Each observer is
// delivered at most once per active-queue lifetime: once popped it is gone
// from l.active until the next RebuildActive re-admits it.
func (l *ObserverList) PopDue(current Timestamp) []TimeObserver {
	var due []TimeObserver
	for len(l.active) > 0 {
		tail := l.active[len(l.active)-1]
		if tail.TargetTime.After(current) {
			break
		}
		due = append(due, tail)
		l.active = l.active[:len(l.active)-1]
	}
	return due
}

// ActiveLen reports the number of observers still pending in the active
// queue, for tests.
func (l *ObserverList) ActiveLen() int { return len(l.active) }
