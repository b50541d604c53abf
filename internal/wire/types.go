package wire

// Message types sent by the client.
const (
	TypeKeyPress       = "key_press"
	TypeTypeText       = "type_text"
	TypeTouchpadMove   = "touchpad_move"
	TypeTouchpadClick  = "touchpad_click"
	TypeTouchpadScroll = "touchpad_scroll"
	TypePing           = "ping"
)

// Message types received from the remote service.
const (
	TypePong      = "pong"
	TypeBroadcast = "broadcast"
	TypeError     = "error"
)

// Mouse buttons for TouchpadClick.
const (
	ButtonLeft  = "left"
	ButtonRight = "right"
)

// Click kinds for TouchpadClick.
const (
	ClickSingle = "single"
	ClickDouble = "double"
)

// KeyPress presses a single key for Duration milliseconds.
type KeyPress struct {
	Key      string `json:"key"`
	Duration int    `json:"duration"`
}

// TypeText types a string on the remote keyboard.
type TypeText struct {
	Text string `json:"text"`
}

// TouchpadMove is a relative pointer move.
type TouchpadMove struct {
	DeltaX int     `json:"deltaX"`
	DeltaY int     `json:"deltaY"`
	DPI    float64 `json:"dpi"`
}

// TouchpadClick is a button click.
type TouchpadClick struct {
	Button string `json:"button"` // "left" or "right"
	Type   string `json:"type"`   // "single" or "double"
}

// TouchpadScroll is a scroll by raw wheel delta.
type TouchpadScroll struct {
	DeltaX int `json:"deltaX"`
	DeltaY int `json:"deltaY"`
}

// ErrorPayload is the data of an "error" message.
type ErrorPayload struct {
	Message string `json:"message"`
}
