package core

import (
	"sync"
	"sync/atomic"
)

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01
	// Keyboard key pressed. Data is a *KeyEvent.
	EVENT_CODE_KEY_PRESSED SystemEventCode = 0x02
	// Keyboard key released. Data is a *KeyEvent.
	EVENT_CODE_KEY_RELEASED SystemEventCode = 0x03
	// Resized/resolution changed from the OS. Data is a *SystemEvent.
	EVENT_CODE_RESIZED SystemEventCode = 0x08

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

type EventContext struct {
	Type SystemEventCode
	Data interface{}
}

type KeyEvent struct {
	KeyCode KeyCode
}

type SystemEvent struct {
	WindowWidth  uint32
	WindowHeight uint32
}

// FnOnEvent is invoked for every fired event of the registered code.
type FnOnEvent func(context EventContext)

type eventSystemState struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]FnOnEvent
	queue      chan EventContext

	// Events that must survive a full queue. Only the latest of each code
	// is kept.
	overflowMu sync.Mutex
	overflow   map[SystemEventCode]EventContext
}

// Latest wins for these when the queue is full.
var coalescedEvents = map[SystemEventCode]bool{
	EVENT_CODE_APPLICATION_QUIT: true,
	EVENT_CODE_RESIZED:          true,
}

// Fired from the signal goroutine as well as the driving thread.
var eventState atomic.Pointer[eventSystemState]

func EventSystemInitialize() bool {
	return eventState.CompareAndSwap(nil, &eventSystemState{
		registered: make(map[SystemEventCode][]FnOnEvent),
		queue:      make(chan EventContext, 64),
		overflow:   make(map[SystemEventCode]EventContext),
	})
}

// EventSystemShutdown drops every listener. Events fired concurrently land in
// the old queue and are never dispatched.
func EventSystemShutdown() error {
	state := eventState.Swap(nil)
	if state == nil {
		return nil
	}
	state.mu.Lock()
	state.registered = make(map[SystemEventCode][]FnOnEvent)
	state.mu.Unlock()
	return nil
}

// EventRegister adds a listener for the given code.
func EventRegister(code SystemEventCode, onEvent FnOnEvent) bool {
	state := eventState.Load()
	if state == nil || onEvent == nil {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.registered[code] = append(state.registered[code], onEvent)
	return true
}

// EventFire queues an event. Listeners run when ProcessEvents drains the
// queue, which the engine does once per loop iteration on the driving thread.
// Quit and resize events are never lost; other events are dropped when the
// queue is full.
func EventFire(context EventContext) bool {
	state := eventState.Load()
	if state == nil {
		return false
	}
	select {
	case state.queue <- context:
		return true
	default:
	}
	if coalescedEvents[context.Type] {
		state.overflowMu.Lock()
		state.overflow[context.Type] = context
		state.overflowMu.Unlock()
		return true
	}
	LogWarn("event queue full, dropping event `%d`", context.Type)
	return false
}

// ProcessEvents dispatches every queued event and returns how many were handled.
func ProcessEvents() int {
	state := eventState.Load()
	if state == nil {
		return 0
	}
	handled := 0
	for {
		select {
		case ev := <-state.queue:
			state.dispatch(ev)
			handled++
		default:
			return handled + state.dispatchOverflow()
		}
	}
}

func (s *eventSystemState) dispatch(ev EventContext) {
	s.mu.RLock()
	listeners := s.registered[ev.Type]
	s.mu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}

// dispatchOverflow runs after the queue so a coalesced resize is the last
// one listeners see.
func (s *eventSystemState) dispatchOverflow() int {
	s.overflowMu.Lock()
	pending := s.overflow
	if len(pending) > 0 {
		s.overflow = make(map[SystemEventCode]EventContext)
	}
	s.overflowMu.Unlock()
	for _, code := range []SystemEventCode{EVENT_CODE_RESIZED, EVENT_CODE_APPLICATION_QUIT} {
		if ev, ok := pending[code]; ok {
			s.dispatch(ev)
		}
	}
	return len(pending)
}
