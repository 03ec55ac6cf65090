package levels

import (
	"context"

	"levelverse.io/internal/store"
)

// IsEditionAllowed reports whether userID may edit the level they are
// currently in: they created it or are one of its editors.
func (s *Service) IsEditionAllowed(ctx context.Context, userID string) (bool, error) {
	return s.isEditionAllowed(ctx, s.store, userID)
}

func (s *Service) isEditionAllowed(ctx context.Context, st store.Store, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	_, level, err := s.userLevel(ctx, st, userID)
	if CodeOf(err) == CodeMissingUser {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return canEdit(level, userID), nil
}

// ToggleLevelEditionPermission grants targetUserID edit rights on the
// caller's current level, or revokes them when the target can already edit
// the level they are in. A caller without edit rights is silently ignored.
func (s *Service) ToggleLevelEditionPermission(ctx context.Context, callerID, targetUserID string) error {
	if callerID == "" {
		return ErrMissingUser
	}
	if err := checkID("userId", targetUserID); err != nil {
		return err
	}

	caller, level, err := s.userLevel(ctx, s.store, callerID)
	if err != nil {
		return err
	}
	if !canEdit(level, callerID) {
		s.log.Debug().Str("user_id", callerID).Str("target_id", targetUserID).Msg("toggleLevelEditionPermission: refused")
		return nil
	}
	levelID := s.currentLevelID(caller)

	targetAllowed, err := s.isEditionAllowed(ctx, s.store, targetUserID)
	if err != nil {
		return err
	}
	var upd store.Update
	if !targetAllowed {
		upd.AddToSet = map[string][]any{"editorUserIds": {targetUserID}}
	} else {
		upd.Pull = map[string]any{"editorUserIds": targetUserID}
	}
	if _, err := s.store.Collection(store.Levels).Update(ctx, store.ByID(levelID), upd, store.UpdateOptions{}); err != nil {
		return internal(err, "update editors of level %s", levelID)
	}

	s.notify(ctx, levelID)
	s.log.Info().
		Str("level_id", levelID).
		Str("user_id", callerID).
		Str("target_id", targetUserID).
		Bool("granted", !targetAllowed).
		Msg("toggleLevelEditionPermission")
	return nil
}

// Editors lists the editor ids of a level.
func (s *Service) Editors(ctx context.Context, levelID string) ([]string, error) {
	l, err := s.Level(ctx, levelID)
	if err != nil {
		return nil, err
	}
	return l.EditorUserIDs, nil
}
