package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	plog "levelverse.io/internal/persistence/log"
)

var errLimit = errors.New("limit reached")

// eventsCmd prints the JSON lines of analytics or activity segments, oldest
// first.
func eventsCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("data", "./data", "runtime data directory")
	kind := fs.String("kind", "activity", "activity or analytics")
	limit := fs.Int("limit", 0, "max lines (0 = all)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	switch *kind {
	case "activity", "analytics":
	default:
		fmt.Fprintf(stderr, "bad -kind %q\n", *kind)
		return 2
	}

	segs, err := plog.Segments(filepath.Join(*dataDir, *kind), *kind)
	if err != nil {
		return fail(stderr, "segments", err)
	}
	n := 0
	for _, seg := range segs {
		err := plog.ReadSegment(seg, func(line json.RawMessage) error {
			if *limit > 0 && n >= *limit {
				return errLimit
			}
			n++
			_, err := fmt.Fprintln(stdout, string(line))
			return err
		})
		if errors.Is(err, errLimit) {
			break
		}
		if err != nil {
			return fail(stderr, filepath.Base(seg), err)
		}
	}
	return 0
}
