// Package accounts creates users, screens login attempts and runs the
// login-time bookkeeping (spawn assignment, sign-in analytics).
package accounts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/oops"

	"levelverse.io/internal/analytics"
	"levelverse.io/internal/levels"
	"levelverse.io/internal/store"
)

const LoginTypeResume = "resume"

type Config struct {
	DefaultLevelID string
	DefaultSpawn   levels.Position
	ForbiddenIPs   []string
}

type Service struct {
	cfg       Config
	store     store.Store
	tracker   analytics.Tracker
	log       zerolog.Logger
	now       func() time.Time
	forbidden map[string]struct{}
}

func NewService(cfg Config, st store.Store, tracker analytics.Tracker, logger zerolog.Logger) *Service {
	if cfg.DefaultSpawn == (levels.Position{}) {
		cfg.DefaultSpawn = levels.DefaultSpawn
	}
	if tracker == nil {
		tracker = analytics.Nop{}
	}
	forbidden := make(map[string]struct{}, len(cfg.ForbiddenIPs))
	for _, ip := range cfg.ForbiddenIPs {
		if norm := normalizeIP(ip); norm != "" {
			forbidden[norm] = struct{}{}
		}
	}
	return &Service{
		cfg:       cfg,
		store:     st,
		tracker:   tracker,
		log:       logger.With().Str("component", "accounts").Logger(),
		now:       time.Now,
		forbidden: forbidden,
	}
}

type CreateUserOptions struct {
	Username string
	Profile  map[string]any
	// Token is the session token; one is generated when empty.
	Token string
}

// CreateUser stores a new user placed in the default level and returns its
// id and session token.
func (s *Service) CreateUser(ctx context.Context, opts CreateUserOptions) (string, string, error) {
	username := strings.TrimSpace(opts.Username)
	if !levels.ValidName(username) {
		return "", "", &levels.Error{Code: levels.CodeBadRequest, Message: "invalid username"}
	}
	users := s.store.Collection(store.Users)
	if username != "" {
		n, err := users.Count(ctx, store.Selector{"username": username})
		if err != nil {
			return "", "", oops.Wrapf(err, "count users named %s", username)
		}
		if n > 0 {
			return "", "", &levels.Error{Code: levels.CodeBadRequest, Message: "username already taken"}
		}
	}

	token := opts.Token
	if token == "" {
		token = uuid.NewString()
	}
	profile := map[string]any{}
	for k, v := range opts.Profile {
		profile[k] = v
	}
	profile["levelId"] = s.cfg.DefaultLevelID

	id := levels.NewID(levels.PrefixUser)
	doc := store.Doc{
		store.IDField: id,
		"createdAt":   s.now().UTC(),
		"profile":     profile,
		"auth":        map[string]any{"tokenHash": HashToken(token)},
	}
	if username != "" {
		doc["username"] = username
	}
	if _, err := users.Insert(ctx, doc); err != nil {
		return "", "", oops.Wrapf(err, "insert user %s", id)
	}
	s.log.Info().Str("user_id", id).Str("username", username).Msg("onCreateUser")
	return id, token, nil
}

// ValidateLoginAttempt refuses connections from forbidden IPs.
func (s *Service) ValidateLoginAttempt(ip string) bool {
	if _, bad := s.forbidden[normalizeIP(ip)]; bad {
		s.log.Warn().Str("ip", ip).Msg("validateLoginAttempt: watched ip detected")
		return false
	}
	return true
}

type LoginAttempt struct {
	UserID string
	// Type is the login method; LoginTypeResume for reconnections.
	Type      string
	IP        string
	UserAgent string
}

// OnLogin assigns a spawn position to users that have none and reports
// non-resume sign-ins of registered users.
func (s *Service) OnLogin(ctx context.Context, attempt LoginAttempt) error {
	users := s.store.Collection(store.Users)
	d, err := users.FindOne(ctx, store.ByID(attempt.UserID), store.FindOptions{})
	if errors.Is(err, store.ErrNotFound) {
		return levels.ErrMissingUser
	}
	if err != nil {
		return oops.Wrapf(err, "find user %s", attempt.UserID)
	}
	var u levels.User
	if err := store.Decode(d, &u); err != nil {
		return oops.Wrapf(err, "decode user %s", attempt.UserID)
	}

	s.log.Debug().Str("user_id", u.ID).Str("ip", attempt.IP).Str("user_agent", attempt.UserAgent).Msg("onLogin: start")

	if !u.Profile.HasPosition() {
		spawn, err := s.defaultSpawn(ctx)
		if err != nil {
			return err
		}
		upd := store.Update{Set: map[string]any{"profile.x": spawn.X, "profile.y": spawn.Y}}
		if _, err := users.Update(ctx, store.ByID(u.ID), upd, store.UpdateOptions{}); err != nil {
			return oops.Wrapf(err, "assign spawn to user %s", u.ID)
		}
	}

	if u.Profile.Guest {
		return nil
	}
	if attempt.Type != LoginTypeResume {
		s.tracker.Track(u.ID, analytics.EventSignIn, nil)
	}
	return nil
}

func (s *Service) defaultSpawn(ctx context.Context) (levels.Position, error) {
	d, err := s.store.Collection(store.Levels).FindOne(ctx, store.ByID(s.cfg.DefaultLevelID), store.FindOptions{Fields: []string{"spawn"}})
	if errors.Is(err, store.ErrNotFound) {
		return s.cfg.DefaultSpawn, nil
	}
	if err != nil {
		return levels.Position{}, oops.Wrapf(err, "find default level %s", s.cfg.DefaultLevelID)
	}
	x, okX := d.Get("spawn.x")
	y, okY := d.Get("spawn.y")
	fx, isX := x.(float64)
	fy, isY := y.(float64)
	if !okX || !okY || !isX || !isY {
		return s.cfg.DefaultSpawn, nil
	}
	return levels.Position{X: fx, Y: fy}, nil
}

func normalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if parsed := net.ParseIP(ip); parsed != nil {
		return parsed.String()
	}
	return ip
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
