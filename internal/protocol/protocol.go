package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	// Client -> server.
	TypeHello  = "HELLO"
	TypeSub    = "SUB"
	TypeUnsub  = "UNSUB"
	TypeMethod = "METHOD"

	// Server -> client.
	TypeWelcome = "WELCOME"
	TypeAdded   = "ADDED"
	TypeChanged = "CHANGED"
	TypeRemoved = "REMOVED"
	TypeReady   = "READY"
	TypeNoSub   = "NOSUB"
	TypeResult  = "RESULT"
)

// Subscriptions.
const (
	SubLevels         = "levels"
	SubLevelTemplates = "levelTemplates"
	SubCurrentLevel   = "currentLevel"
)

// Methods.
const (
	MethodCreateLevel                  = "createLevel"
	MethodUpdateLevel                  = "updateLevel"
	MethodToggleLevelEditionPermission = "toggleLevelEditionPermission"
	MethodIncreaseLevelVisits          = "increaseLevelVisits"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
