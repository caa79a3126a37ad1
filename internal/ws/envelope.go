package ws

// Inbound frame types.
const (
	TypeSelect   = "select"
	TypeDeselect = "deselect"
	TypeSend     = "send"
	TypeSearch   = "search"
	TypeFind     = "find"
	TypeRefresh  = "refresh"
)

// Outbound frame types.
const (
	TypeRoster   = "roster"
	TypeMessages = "messages"
	TypeScroll   = "scroll"
	TypeBusy     = "busy"
	TypeSent     = "sent"
	TypeSelected = "selected"
	TypeResults  = "results"
	TypeError    = "error"
)

// Inbound is a frame sent by the browser.
type Inbound struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Query string `json:"query,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Envelope is a frame pushed to the browser.
type Envelope struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
	// Draft echoes unsent text back after a failed send so it can be retried.
	Draft string `json:"draft,omitempty"`
}
