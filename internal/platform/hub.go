package platform

import (
	"sync"
	"time"
)

// Hub is a Platform driven by external signals. In production the local
// signal server feeds it from the host application; tests drive it
// directly.
type Hub struct {
	mu                  sync.RWMutex
	inputCallback       func(InputEvent)
	visibilityCallbacks []func(bool)
	callStateCallbacks  []func(bool)
	visible             bool
	focused             bool
	onCall              bool
}

func NewHub() *Hub {
	return &Hub{
		visible: true,
		focused: true,
	}
}

func (s *Hub) StartInputMonitoring(callback func(InputEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputCallback = callback
	return nil
}

func (s *Hub) StopInputMonitoring() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputCallback = nil
	return nil
}

func (s *Hub) Visible() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible
}

func (s *Hub) Focused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focused
}

func (s *Hub) SubscribeVisibility(callback func(bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visibilityCallbacks = append(s.visibilityCallbacks, callback)
}

func (s *Hub) SubscribeCallState(callback func(bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callStateCallbacks = append(s.callStateCallbacks, callback)
}

// EmitInput injects a qualifying input event
func (s *Hub) EmitInput(inputType InputType) {
	s.mu.RLock()
	cb := s.inputCallback
	s.mu.RUnlock()

	if cb != nil {
		cb(InputEvent{Type: inputType, Timestamp: time.Now()})
	}
}

// SetVisible updates visibility and notifies subscribers on change
func (s *Hub) SetVisible(visible bool) {
	s.mu.Lock()
	changed := s.visible != visible
	s.visible = visible
	callbacks := append([]func(bool){}, s.visibilityCallbacks...)
	s.mu.Unlock()

	if changed {
		for _, cb := range callbacks {
			cb(visible)
		}
	}
}

// SetFocused updates the focus flag
func (s *Hub) SetFocused(focused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focused = focused
}

// SetOnCall updates the call state and notifies subscribers on change
func (s *Hub) SetOnCall(onCall bool) {
	s.mu.Lock()
	changed := s.onCall != onCall
	s.onCall = onCall
	callbacks := append([]func(bool){}, s.callStateCallbacks...)
	s.mu.Unlock()

	if changed {
		for _, cb := range callbacks {
			cb(onCall)
		}
	}
}
