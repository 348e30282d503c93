package core

import "sync"

type KeyCode uint16

// Only the keys the visualizer reacts to are mapped.
const (
	KEY_UNKNOWN KeyCode = 0x00
	KEY_ENTER   KeyCode = 0x0D
	KEY_ESCAPE  KeyCode = 0x1B
	KEY_SPACE   KeyCode = 0x20
	KEY_N       KeyCode = 0x4E
	KEY_P       KeyCode = 0x50
	KEY_R       KeyCode = 0x52

	KEYS_MAX_KEYS KeyCode = 0xFF
)

type keyboardState struct {
	Keys [KEYS_MAX_KEYS + 1]bool
}

type inputSystemState struct {
	current  keyboardState
	previous keyboardState
}

var inputMu sync.Mutex
var inputState *inputSystemState

func InputInitialize() error {
	inputMu.Lock()
	defer inputMu.Unlock()
	inputState = &inputSystemState{}
	LogInfo("Input subsystem initialized.")
	return nil
}

func InputShutdown() error {
	inputMu.Lock()
	defer inputMu.Unlock()
	inputState = nil
	return nil
}

// InputUpdate copies the current key states into the previous ones. Call it
// once at the end of every frame.
func InputUpdate() {
	inputMu.Lock()
	defer inputMu.Unlock()
	if inputState == nil {
		return
	}
	inputState.previous = inputState.current
}

func InputIsKeyDown(key KeyCode) bool {
	inputMu.Lock()
	defer inputMu.Unlock()
	if inputState == nil {
		return false
	}
	return inputState.current.Keys[key]
}

func InputWasKeyDown(key KeyCode) bool {
	inputMu.Lock()
	defer inputMu.Unlock()
	if inputState == nil {
		return false
	}
	return inputState.previous.Keys[key]
}

// InputProcessKey records a key transition and fires a key event when the
// state actually changed.
func InputProcessKey(key KeyCode, pressed bool) {
	inputMu.Lock()
	if inputState == nil || inputState.current.Keys[key] == pressed {
		inputMu.Unlock()
		return
	}
	inputState.current.Keys[key] = pressed
	inputMu.Unlock()

	code := EVENT_CODE_KEY_RELEASED
	if pressed {
		code = EVENT_CODE_KEY_PRESSED
	}
	EventFire(EventContext{
		Type: code,
		Data: &KeyEvent{KeyCode: key},
	})
}
