package main

import (
	"flag"
	"io"
	"os"
	"time"

	"github.com/hashicorp/cli"

	"github.com/flowforge/startlimit/pkg/control"
)

const defaultTimeout = 30 * time.Second

// Meta holds the flags and UI shared by every command.
type Meta struct {
	Ui cli.Ui

	schedd string
	token  string
}

func (m *Meta) FlagSet(name string) *flag.FlagSet {
	f := flag.NewFlagSet(name, flag.ContinueOnError)
	f.SetOutput(io.Discard)
	f.StringVar(&m.schedd, "schedd", os.Getenv("STARTLIMIT_ADDR"), "")
	f.StringVar(&m.token, "token", os.Getenv("STARTLIMIT_TOKEN"), "")
	return f
}

func (m *Meta) Client() (*control.Client, error) {
	return control.NewClient(control.Config{
		Address: m.schedd,
		Token:   m.token,
		Timeout: defaultTimeout,
	})
}

const generalOptions = `
General Options:

  -schedd=<addr>
    Address of the limiter server. Defaults to $STARTLIMIT_ADDR or
    http://127.0.0.1:8080.

  -token=<token>
    Operator bearer token. Defaults to $STARTLIMIT_TOKEN.
`
