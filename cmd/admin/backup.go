package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"levelverse.io/internal/persistence/snapshot"
)

func exportCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sf := addStoreFlags(fs)
	out := fs.String("out", "", "snapshot path (required)")
	only := fs.String("collections", "", "comma separated collections (default: all)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*out) == "" {
		fmt.Fprintln(stderr, "missing -out")
		return 2
	}
	var collections []string
	for _, c := range strings.Split(*only, ",") {
		if c = strings.TrimSpace(c); c != "" {
			collections = append(collections, c)
		}
	}
	e, err := sf.open(stderr)
	if err != nil {
		return fail(stderr, "open", err)
	}
	defer e.Close()

	h, err := snapshot.Write(context.Background(), *out, e.store, collections)
	if err != nil {
		return fail(stderr, "export", err)
	}
	fmt.Fprintf(stdout, "exported %s: %s\n", *out, formatCounts(h.Collections))
	return 0
}

func importCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sf := addStoreFlags(fs)
	in := fs.String("in", "", "snapshot path (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*in) == "" {
		fmt.Fprintln(stderr, "missing -in")
		return 2
	}
	e, err := sf.open(stderr)
	if err != nil {
		return fail(stderr, "open", err)
	}
	defer e.Close()

	res, err := snapshot.Restore(context.Background(), *in, e.store)
	if err != nil {
		return fail(stderr, "import", err)
	}
	fmt.Fprintf(stdout, "imported %s: %s skipped=%d\n", *in, formatCounts(res.Inserted), res.Skipped)
	return 0
}

func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}
