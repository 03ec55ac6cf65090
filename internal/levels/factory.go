package levels

import (
	"context"
	"time"

	"levelverse.io/internal/analytics"
	"levelverse.io/internal/store"
)

type CreateOptions struct {
	// TemplateID is an existing level whose content is cloned.
	TemplateID string
	Name       string
	GuildID    string
	// CreatedBy overrides the acting user.
	CreatedBy string
}

// childKind is a collection whose records are owned by a level.
type childKind struct {
	collection string
	prefix     string
}

var childKinds = []childKind{
	{collection: store.Tiles, prefix: PrefixTile},
	{collection: store.Zones, prefix: PrefixZone},
	{collection: store.Entities, prefix: PrefixEntity},
}

// Template fields copied onto a new level besides spawn.
var templateFields = []string{"metadata", "width", "height"}

const previousWorldZone = "Previous world"

// CreateLevel inserts a new level owned by the acting user and returns its id.
// With a template the template's content is cloned; otherwise the level gets
// one zone leading back to the user's current level.
func (s *Service) CreateLevel(ctx context.Context, actorID string, opts CreateOptions) (string, error) {
	userID := opts.CreatedBy
	if userID == "" {
		userID = actorID
	}
	if userID == "" {
		return "", ErrMissingUser
	}
	if err := checkOptionalID("templateId", opts.TemplateID); err != nil {
		return "", err
	}
	if err := checkOptionalID("guildId", opts.GuildID); err != nil {
		return "", err
	}
	if err := checkOptionalID("createdBy", opts.CreatedBy); err != nil {
		return "", err
	}
	if !ValidName(opts.Name) {
		return "", newError(CodeBadRequest, "invalid name")
	}

	s.log.Debug().Str("user_id", userID).Str("template_id", opts.TemplateID).Msg("createLevel: start")

	now := s.now().UTC()
	levelID := NewID(PrefixLevel)
	var levelName string

	err := s.atomic(ctx, func(st store.Store) error {
		user, err := s.loadUser(ctx, st, userID)
		if err != nil {
			return err
		}
		levelName = opts.Name
		if levelName == "" {
			levelName = user.DisplayName() + "'s world"
		}

		level := store.Doc{
			store.IDField: levelID,
			"name":        levelName,
			"spawn":       s.cfg.DefaultSpawn.doc(),
			"apiKey":      NewAPIKey(now),
			"createdAt":   now,
			"createdBy":   user.ID,
		}
		if opts.GuildID != "" {
			level["guildId"] = opts.GuildID
		}

		if opts.TemplateID == "" {
			if _, err := st.Collection(store.Levels).Insert(ctx, level); err != nil {
				return internal(err, "insert level %s", levelID)
			}
			return s.insertReturnZone(ctx, st, levelID, user, now)
		}

		tpl, err := s.findLevel(ctx, st, opts.TemplateID, nil)
		if err != nil {
			return err
		}
		if tpl == nil {
			return newError(CodeInvalidLevel, "template %s not found", opts.TemplateID)
		}
		for _, f := range templateFields {
			if v, ok := tpl[f]; ok {
				level[f] = v
			}
		}
		if spawn, ok := tpl["spawn"]; ok && spawn != nil {
			level["spawn"] = spawn
		}
		level["templateId"] = opts.TemplateID
		level["template"] = false
		if _, err := st.Collection(store.Levels).Insert(ctx, level); err != nil {
			return internal(err, "insert level %s", levelID)
		}

		for _, kind := range childKinds {
			n, err := cloneScoped(ctx, st, kind, opts.TemplateID, levelID, user.ID, now)
			if err != nil {
				return err
			}
			s.log.Debug().Str("level_id", levelID).Str("kind", kind.collection).Int("count", n).Msg("createLevel: copied template records")
		}
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("createLevel: failed")
		return "", err
	}

	s.tracker.Track(userID, analytics.EventLevelCreated, map[string]any{"level_id": levelID, "level_name": levelName})
	s.log.Info().Str("level_id", levelID).Str("level_name", levelName).Str("user_id", userID).Msg("createLevel: done")
	return levelID, nil
}

func (s *Service) insertReturnZone(ctx context.Context, st store.Store, levelID string, user User, now time.Time) error {
	zone := Zone{
		ID:              NewID(PrefixZone),
		LevelID:         levelID,
		Name:            previousWorldZone,
		X1:              10,
		Y1:              10,
		X2:              110,
		Y2:              110,
		TargetedLevelID: user.Profile.LevelID,
		AdminOnly:       false,
		CreatedBy:       user.ID,
		CreatedAt:       now,
	}
	doc, err := store.Encode(zone)
	if err != nil {
		return internal(err, "encode zone")
	}
	if _, err := st.Collection(store.Zones).Insert(ctx, doc); err != nil {
		return internal(err, "insert zone for level %s", levelID)
	}
	return nil
}

// cloneScoped copies every record of kind owned by from into to. Copies get a
// fresh id and creation stamp and belong to actor; all other fields are kept.
func cloneScoped(ctx context.Context, st store.Store, kind childKind, from, to, actor string, now time.Time) (int, error) {
	coll := st.Collection(kind.collection)
	docs, err := coll.Find(ctx, store.Selector{"levelId": from}, store.FindOptions{})
	if err != nil {
		return 0, internal(err, "find %s of level %s", kind.collection, from)
	}
	for _, d := range docs {
		cp := d.Clone()
		cp[store.IDField] = NewID(kind.prefix)
		cp["createdAt"] = now
		cp["createdBy"] = actor
		cp["levelId"] = to
		if _, err := coll.Insert(ctx, cp); err != nil {
			return 0, internal(err, "copy %s %s", kind.collection, d.ID())
		}
	}
	return len(docs), nil
}
