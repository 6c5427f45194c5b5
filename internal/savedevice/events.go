package savedevice

import "fmt"

type EventKind int

const (
	// EventSelectorCanceled is raised when the user dismisses the device
	// selection prompt without picking a medium.
	EventSelectorCanceled EventKind = iota
	// EventDeviceDisconnected is raised when the selected medium stops
	// being available.
	EventDeviceDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventSelectorCanceled:
		return "selector_canceled"
	case EventDeviceDisconnected:
		return "device_disconnected"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Response tells the device what to do after a handler ran.
type Response int

const (
	// ResponseNothing leaves the device waiting for an explicit prompt.
	ResponseNothing Response = iota
	// ResponseForce prompts for a device again on the next tick.
	ResponseForce
)

func (r Response) String() string {
	switch r {
	case ResponseNothing:
		return "nothing"
	case ResponseForce:
		return "force"
	default:
		return fmt.Sprintf("Response(%d)", int(r))
	}
}

type DeviceEvent struct {
	Kind     EventKind
	Provider string
	Err      error
	Response Response
}

type EventHandler func(*DeviceEvent)

// ForceHandler always asks for a new prompt.
func ForceHandler(e *DeviceEvent) { e.Response = ResponseForce }
