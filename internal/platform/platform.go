package platform

import "time"

// InputType is the kind of qualifying input observed on the device
type InputType string

const (
	InputMouseMove  InputType = "mouse_move"
	InputMouseClick InputType = "mouse_click"
	InputKeyPress   InputType = "key_press"
	InputScroll     InputType = "scroll"
	InputTouch      InputType = "touch"
)

// InputEvent is a single qualifying user input event
type InputEvent struct {
	Type      InputType
	Timestamp time.Time
}

// Platform is the injected signal source for user input, app visibility and
// focus, and the external call state. The tracker and the notification
// gateway consume it instead of talking to the host environment directly,
// so tests can drive them with a simulated source.
type Platform interface {
	// StartInputMonitoring begins delivering qualifying input events to the
	// callback until StopInputMonitoring is called
	StartInputMonitoring(callback func(InputEvent)) error
	StopInputMonitoring() error

	// Visible reports whether the application is currently visible
	Visible() bool
	// Focused reports whether the application currently has input focus
	Focused() bool

	// SubscribeVisibility delivers a callback whenever visibility changes;
	// the bool argument is the new visibility
	SubscribeVisibility(callback func(visible bool))

	// SubscribeCallState delivers a callback whenever the external call
	// state flips; the bool argument is "on a call"
	SubscribeCallState(callback func(onCall bool))
}
