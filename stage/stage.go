// Package stage provides a small atomic state machine used to track the
// lifecycle of the sync client and server.
package stage

import (
	"sync"
	"sync/atomic"
)

type Stage string

type Manager struct {
	current *atomic.Value

	notifyMu sync.Mutex
	notify   map[Stage][]chan struct{}
}

func NewManager(initial Stage) *Manager {
	m := &Manager{
		current: &atomic.Value{},
		notify:  map[Stage][]chan struct{}{},
	}
	m.current.Store(initial)
	return m
}

func (m *Manager) CompareAndSwap(oldStage, newStage Stage) (swapped bool) {
	swapped = m.current.CompareAndSwap(oldStage, newStage)
	if swapped {
		m.closeWaiters(newStage)
	}
	return swapped
}

func (m *Manager) Current() Stage {
	return m.current.Load().(Stage)
}

func (m *Manager) Store(val Stage) {
	m.current.Store(val)
	m.closeWaiters(val)
}

func (m *Manager) Swap(newStage Stage) (oldStage Stage) {
	oldStage = m.current.Swap(newStage).(Stage)
	m.closeWaiters(newStage)
	return oldStage
}

// NotifyOnStage returns a channel that is closed once the manager reaches the
// given stage. If the manager is already at that stage the channel is closed
// immediately.
func (m *Manager) NotifyOnStage(s Stage) <-chan struct{} {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	ch := make(chan struct{})
	if m.Current() == s {
		close(ch)
		return ch
	}
	m.notify[s] = append(m.notify[s], ch)
	return ch
}

func (m *Manager) closeWaiters(s Stage) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	for _, ch := range m.notify[s] {
		close(ch)
	}
	delete(m.notify, s)
}
