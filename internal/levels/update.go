package levels

import (
	"context"

	"levelverse.io/internal/store"
)

// UpdateLevel renames the caller's current level and moves its spawn. hide
// sets the hide flag; false removes the flag entirely.
func (s *Service) UpdateLevel(ctx context.Context, callerID, name string, position Position, hide bool) error {
	if callerID == "" {
		return ErrMissingUser
	}
	if !ValidName(name) {
		return newError(CodeBadRequest, "invalid name")
	}
	if !position.valid() {
		return newError(CodeBadRequest, "invalid position")
	}

	_, level, err := s.userLevel(ctx, s.store, callerID)
	if err != nil {
		return err
	}
	if level == nil {
		return ErrInvalidLevel
	}
	if sandbox, _ := level["sandbox"].(bool); sandbox {
		return ErrInvalidLevel
	}
	if !canEdit(level, callerID) {
		return ErrPermission
	}

	upd := store.Update{Set: map[string]any{"name": name, "spawn": position.doc()}}
	if hide {
		upd.Set["hide"] = true
	} else {
		upd.Unset = []string{"hide"}
	}
	if _, err := s.store.Collection(store.Levels).Update(ctx, store.ByID(level.ID()), upd, store.UpdateOptions{}); err != nil {
		return internal(err, "update level %s", level.ID())
	}

	s.notify(ctx, level.ID())
	s.log.Info().Str("level_id", level.ID()).Str("user_id", callerID).Bool("hide", hide).Msg("updateLevel")
	return nil
}

// IncreaseLevelVisits counts one visit of levelID unless the caller created
// it. Unauthenticated calls are ignored.
func (s *Service) IncreaseLevelVisits(ctx context.Context, callerID, levelID string) error {
	if callerID == "" {
		return nil
	}
	if err := checkID("level id", levelID); err != nil {
		return err
	}
	sel := store.Selector{store.IDField: levelID, "createdBy": map[string]any{"$ne": callerID}}
	n, err := s.store.Collection(store.Levels).Update(ctx, sel, store.Update{Inc: map[string]float64{"visit": 1}}, store.UpdateOptions{})
	if err != nil {
		return internal(err, "increase visits of level %s", levelID)
	}
	s.log.Debug().Str("level_id", levelID).Str("user_id", callerID).Int("updated", n).Msg("increaseLevelVisits")
	return nil
}
