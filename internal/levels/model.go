package levels

import (
	"math"
	"time"

	"levelverse.io/internal/store"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Position) valid() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

func (p Position) doc() map[string]any {
	return map[string]any{"x": p.X, "y": p.Y}
}

type Level struct {
	ID            string         `json:"_id"`
	Name          string         `json:"name"`
	Spawn         Position       `json:"spawn"`
	Width         int            `json:"width,omitempty"`
	Height        int            `json:"height,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	TemplateID    string         `json:"templateId,omitempty"`
	CreatedBy     string         `json:"createdBy,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	EditorUserIDs []string       `json:"editorUserIds,omitempty"`
	Hide          bool           `json:"hide,omitempty"`
	Visit         int            `json:"visit,omitempty"`
	Template      bool           `json:"template,omitempty"`
	Sandbox       bool           `json:"sandbox,omitempty"`
	GuildID       string         `json:"guildId,omitempty"`
	APIKey        string         `json:"apiKey,omitempty"`
}

// Zone is a rectangle of a level. x1<x2 and y1<y2 are the caller's
// responsibility.
type Zone struct {
	ID              string    `json:"_id"`
	LevelID         string    `json:"levelId"`
	Name            string    `json:"name"`
	X1              float64   `json:"x1"`
	Y1              float64   `json:"y1"`
	X2              float64   `json:"x2"`
	Y2              float64   `json:"y2"`
	TargetedLevelID string    `json:"targetedLevelId,omitempty"`
	AdminOnly       bool      `json:"adminOnly"`
	CreatedBy       string    `json:"createdBy"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Profile struct {
	LevelID string   `json:"levelId,omitempty"`
	X       *float64 `json:"x,omitempty"`
	Y       *float64 `json:"y,omitempty"`
	Name    string   `json:"name,omitempty"`
	Guest   bool     `json:"guest,omitempty"`
}

// HasPosition reports whether spawn coordinates were already assigned.
func (p Profile) HasPosition() bool {
	return p.X != nil && p.Y != nil
}

type User struct {
	ID       string  `json:"_id"`
	Username string  `json:"username,omitempty"`
	Profile  Profile `json:"profile"`
}

func (u User) DisplayName() string {
	if u.Profile.Name != "" {
		return u.Profile.Name
	}
	return u.Username
}

// Projections exposed to subscribers.
var (
	ListFields    = []string{"name", "hide", "visit", "createdBy", "template"}
	CurrentFields = []string{"name", "spawn", "hide", "height", "width", "editorUserIds", "createdBy", "sandbox", "guildId"}
)

func decodeUser(d store.Doc) (User, error) {
	var u User
	err := store.Decode(d, &u)
	return u, err
}

// canEdit is the edition rule: the owner or a listed editor.
func canEdit(level store.Doc, userID string) bool {
	if level == nil || userID == "" {
		return false
	}
	if level.String("createdBy") == userID {
		return true
	}
	editors, _ := level["editorUserIds"].([]any)
	for _, e := range editors {
		if s, _ := e.(string); s == userID {
			return true
		}
	}
	return false
}
