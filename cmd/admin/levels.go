package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/oops"

	"levelverse.io/internal/accounts"
	"levelverse.io/internal/analytics"
	"levelverse.io/internal/config"
	"levelverse.io/internal/levels"
	"levelverse.io/internal/store"
	"levelverse.io/internal/store/sqlitestore"
)

// adminEnv is the store and services a command works on.
type adminEnv struct {
	cfg      config.Config
	store    *sqlitestore.Store
	levels   *levels.Service
	accounts *accounts.Service
}

type storeFlags struct {
	config *string
	db     *string
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		config: fs.String("config", "", "server config path (optional)"),
		db:     fs.String("db", "", "sqlite store path (overrides config)"),
	}
}

func (f storeFlags) open(stderr io.Writer) (*adminEnv, error) {
	cfg, err := config.Load(*f.config)
	if err != nil {
		return nil, err
	}
	path := strings.TrimSpace(*f.db)
	if path == "" {
		if cfg.Store.Backend != config.BackendSQLite {
			return nil, oops.Errorf("store backend %q has nothing to administer; pass -db", cfg.Store.Backend)
		}
		path = cfg.Store.Path
	}
	st, err := sqlitestore.Open(path)
	if err != nil {
		return nil, err
	}
	logger := zerolog.New(stderr).Level(zerolog.WarnLevel)
	return &adminEnv{
		cfg:   cfg,
		store: st,
		levels: levels.NewService(levels.Config{
			DefaultLevelID:        cfg.DefaultLevelID,
			DefaultSpawn:          cfg.Spawn(),
			TransactionalCascades: cfg.TransactionalCascades,
		}, st, analytics.Nop{}, logger),
		accounts: accounts.NewService(accounts.Config{
			DefaultLevelID: cfg.DefaultLevelID,
			DefaultSpawn:   cfg.Spawn(),
		}, st, analytics.Nop{}, logger),
	}, nil
}

func (e *adminEnv) Close() { _ = e.store.Close() }

func fail(stderr io.Writer, what string, err error) int {
	fmt.Fprintf(stderr, "%s: %v\n", what, err)
	return 1
}

func printLevels(ctx context.Context, e *adminEnv, sel store.Selector, stdout io.Writer) error {
	docs, err := e.store.Collection(store.Levels).Find(ctx, sel, store.FindOptions{Fields: levels.ListFields})
	if err != nil {
		return err
	}
	for _, d := range docs {
		flags := ""
		if t, _ := d["template"].(bool); t {
			flags += " template"
		}
		if h, _ := d["hide"].(bool); h {
			flags += " hidden"
		}
		visits, _ := d["visit"].(float64)
		fmt.Fprintf(stdout, "%s\t%s\tvisits=%d\tcreatedBy=%s%s\n", d.ID(), d.String("name"), int(visits), d.String("createdBy"), flags)
	}
	return nil
}

func listCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	e, err := sf.open(stderr)
	if err != nil {
		return fail(stderr, "open", err)
	}
	defer e.Close()
	if err := printLevels(context.Background(), e, store.Selector{}, stdout); err != nil {
		return fail(stderr, "list", err)
	}
	return 0
}

func templatesCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("templates", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	e, err := sf.open(stderr)
	if err != nil {
		return fail(stderr, "open", err)
	}
	defer e.Close()
	sel := store.Selector{"template": true, "hide": map[string]any{"$exists": false}}
	if err := printLevels(context.Background(), e, sel, stdout); err != nil {
		return fail(stderr, "templates", err)
	}
	return 0
}

func createCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sf := addStoreFlags(fs)
	user := fs.String("user", "", "owner user id (required)")
	template := fs.String("template", "", "template level id to clone")
	name := fs.String("name", "", "level name")
	guild := fs.String("guild", "", "guild id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*user) == "" {
		fmt.Fprintln(stderr, "missing -user")
		return 2
	}
	e, err := sf.open(stderr)
	if err != nil {
		return fail(stderr, "open", err)
	}
	defer e.Close()

	id, err := e.levels.CreateLevel(context.Background(), *user, levels.CreateOptions{
		TemplateID: strings.TrimSpace(*template),
		Name:       *name,
		GuildID:    strings.TrimSpace(*guild),
	})
	if err != nil {
		return fail(stderr, "create", err)
	}
	fmt.Fprintln(stdout, id)
	return 0
}

func deleteCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: admin delete [flags] <levelId>")
		return 2
	}
	e, err := sf.open(stderr)
	if err != nil {
		return fail(stderr, "open", err)
	}
	defer e.Close()
	levelID := fs.Arg(0)
	if err := e.levels.DeleteLevel(context.Background(), levelID); err != nil {
		return fail(stderr, "delete", err)
	}
	fmt.Fprintf(stdout, "deleted %s\n", levelID)
	return 0
}

func editorsCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("editors", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: admin editors [flags] <levelId>")
		return 2
	}
	e, err := sf.open(stderr)
	if err != nil {
		return fail(stderr, "open", err)
	}
	defer e.Close()
	ids, err := e.levels.Editors(context.Background(), fs.Arg(0))
	if err != nil {
		return fail(stderr, "editors", err)
	}
	for _, id := range ids {
		fmt.Fprintln(stdout, id)
	}
	return 0
}

func createUserCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sf := addStoreFlags(fs)
	username := fs.String("username", "", "username (empty for a guest)")
	name := fs.String("name", "", "display name")
	guest := fs.Bool("guest", false, "mark the user as a guest")
	token := fs.String("token", "", "session token (generated when empty)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	e, err := sf.open(stderr)
	if err != nil {
		return fail(stderr, "open", err)
	}
	defer e.Close()

	profile := map[string]any{}
	if *name != "" {
		profile["name"] = *name
	}
	if *guest {
		profile["guest"] = true
	}
	id, tok, err := e.accounts.CreateUser(context.Background(), accounts.CreateUserOptions{Username: *username, Profile: profile, Token: *token})
	if err != nil {
		return fail(stderr, "create-user", err)
	}
	fmt.Fprintf(stdout, "%s\t%s\n", id, tok)
	return 0
}

func dbCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("db", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sf := addStoreFlags(fs)
	limit := fs.Int("limit", 20, "result limit")
	level := fs.String("level", "", "levelId filter")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	collection := store.Levels
	if fs.NArg() > 0 {
		collection = strings.TrimSpace(fs.Arg(0))
	}
	e, err := sf.open(stderr)
	if err != nil {
		return fail(stderr, "open", err)
	}
	defer e.Close()

	sel := store.Selector{}
	if *level != "" {
		sel["levelId"] = *level
	}
	docs, err := e.store.Collection(collection).Find(context.Background(), sel, store.FindOptions{Limit: *limit})
	if err != nil {
		return fail(stderr, "db", err)
	}
	enc := json.NewEncoder(stdout)
	for _, d := range docs {
		if collection == store.Users {
			d.Unset("auth")
		}
		if err := enc.Encode(d); err != nil {
			return fail(stderr, "encode", err)
		}
	}
	return 0
}
