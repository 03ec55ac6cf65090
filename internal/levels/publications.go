package levels

import (
	"context"

	"levelverse.io/internal/store"
)

// ListLevels returns every level in its public projection. Unauthenticated
// callers get nothing.
func (s *Service) ListLevels(ctx context.Context, callerID string) ([]store.Doc, error) {
	if callerID == "" {
		return nil, nil
	}
	docs, err := s.store.Collection(store.Levels).Find(ctx, store.Selector{}, store.FindOptions{Fields: ListFields})
	if err != nil {
		return nil, internal(err, "list levels")
	}
	return docs, nil
}

// ListTemplates returns the visible templates.
func (s *Service) ListTemplates(ctx context.Context, callerID string) ([]store.Doc, error) {
	if callerID == "" {
		return nil, nil
	}
	sel := store.Selector{"template": true, "hide": map[string]any{"$exists": false}}
	docs, err := s.store.Collection(store.Levels).Find(ctx, sel, store.FindOptions{Fields: ListFields})
	if err != nil {
		return nil, internal(err, "list templates")
	}
	return docs, nil
}

// CurrentView is what a user sees of the level they occupy.
type CurrentView struct {
	UserID   string
	UserName string
	LevelID  string
	// Level is nil when the level no longer exists.
	Level store.Doc
}

// CurrentLevel resolves the caller's level (the default level when unset)
// and its subscriber projection.
func (s *Service) CurrentLevel(ctx context.Context, userID string) (CurrentView, error) {
	u, err := s.loadUser(ctx, s.store, userID)
	if err != nil {
		return CurrentView{}, err
	}
	levelID := s.currentLevelID(u)
	level, err := s.findLevel(ctx, s.store, levelID, CurrentFields)
	if err != nil {
		return CurrentView{}, err
	}
	return CurrentView{UserID: u.ID, UserName: u.Profile.Name, LevelID: levelID, Level: level}, nil
}

// Projection returns the subscriber projection of a level, or nil when the
// level does not exist.
func (s *Service) Projection(ctx context.Context, levelID string) (store.Doc, error) {
	return s.findLevel(ctx, s.store, levelID, CurrentFields)
}

// LevelDoc returns the whole level document, or nil when the level does not
// exist.
func (s *Service) LevelDoc(ctx context.Context, levelID string) (store.Doc, error) {
	return s.findLevel(ctx, s.store, levelID, nil)
}
