package protocol

import "encoding/json"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Token           string `json:"token,omitempty"`
	// Resume marks a reconnection; it is not reported as a new sign-in.
	Resume bool `json:"resume,omitempty"`
}

// WELCOME (server -> client). UserID is empty for anonymous connections.
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	UserID          string `json:"user_id,omitempty"`
}

// SUB (client -> server)
type SubMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UNSUB (client -> server)
type UnsubMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// METHOD (client -> server). Params is a positional JSON array.
type MethodMsg struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ADDED / CHANGED / REMOVED (server -> client)
type DocMsg struct {
	Type       string         `json:"type"`
	Sub        string         `json:"sub"`
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// READY (server -> client)
type ReadyMsg struct {
	Type string   `json:"type"`
	Subs []string `json:"subs"`
}

// NOSUB (server -> client)
type NoSubMsg struct {
	Type  string     `json:"type"`
	ID    string     `json:"id"`
	Error *ErrorBody `json:"error,omitempty"`
}

// RESULT (server -> client)
type ResultMsg struct {
	Type   string     `json:"type"`
	ID     string     `json:"id"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
