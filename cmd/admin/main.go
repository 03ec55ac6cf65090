package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

const usage = `usage: admin <command> [flags]

commands:
  list          list levels
  templates     list visible templates
  create        create a level (-user, optional -template, -name)
  delete        delete a level and everything it owns
  editors       print the edition list of a level
  create-user   create a user and print its id and session token
  db            dump raw documents of a collection
  events        dump analytics or activity segments
  export        write the store to a zstd snapshot
  import        insert a snapshot's documents into the store
  metrics       fetch /metrics from a running server
`

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmds := map[string]func([]string, io.Writer, io.Writer) int{
		"list":        listCmd,
		"templates":   templatesCmd,
		"create":      createCmd,
		"delete":      deleteCmd,
		"editors":     editorsCmd,
		"create-user": createUserCmd,
		"db":          dbCmd,
		"events":      eventsCmd,
		"export":      exportCmd,
		"import":      importCmd,
		"metrics":     metricsCmd,
	}
	cmd, ok := cmds[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
	return cmd(args[1:], stdout, stderr)
}
