package levels

import (
	"context"

	"levelverse.io/internal/store"
)

// DeleteLevel removes a level and everything it owns, then moves every user
// standing in it to the default level. The last remaining level and the
// default level can never be deleted.
func (s *Service) DeleteLevel(ctx context.Context, levelID string) error {
	if err := checkID("level id", levelID); err != nil {
		return err
	}
	if levelID == s.cfg.DefaultLevelID {
		return newError(CodeNotAllowed, "Can not delete the default level")
	}

	s.log.Debug().Str("level_id", levelID).Msg("deleteLevel: start")

	var relocated int
	err := s.atomic(ctx, func(st store.Store) error {
		levels := st.Collection(store.Levels)
		n, err := levels.Count(ctx, store.Selector{})
		if err != nil {
			return internal(err, "count levels")
		}
		if n <= 1 {
			return newError(CodeNotAllowed, "Can not delete last level")
		}
		level, err := s.findLevel(ctx, st, levelID, []string{"name"})
		if err != nil {
			return err
		}
		if level == nil {
			return ErrInvalidLevel
		}

		scoped := store.Selector{"levelId": levelID}
		for _, name := range []string{store.Entities, store.Zones, store.Tiles} {
			if _, err := st.Collection(name).Remove(ctx, scoped); err != nil {
				return internal(err, "remove %s of level %s", name, levelID)
			}
		}
		if _, err := levels.Remove(ctx, store.ByID(levelID)); err != nil {
			return internal(err, "remove level %s", levelID)
		}
		relocated, err = st.Collection(store.Users).Update(ctx,
			store.Selector{"profile.levelId": levelID},
			store.Update{Set: map[string]any{"profile.levelId": s.cfg.DefaultLevelID}},
			store.UpdateOptions{Multi: true},
		)
		if err != nil {
			return internal(err, "relocate users of level %s", levelID)
		}
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("level_id", levelID).Msg("deleteLevel: failed")
		return err
	}

	s.notify(ctx, levelID)
	s.log.Info().Str("level_id", levelID).Int("relocated_users", relocated).Msg("deleteLevel: done")
	return nil
}
