package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ui := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	c := cli.NewCLI("limitctl", version)
	c.Args = args
	c.Commands = Commands(Meta{Ui: ui})

	exitStatus, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %s\n", err)
	}
	return exitStatus
}

func Commands(meta Meta) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"create": func() (cli.Command, error) {
			return &CreateCommand{Meta: meta}, nil
		},
		"query": func() (cli.Command, error) {
			return &QueryCommand{Meta: meta}, nil
		},
		"list": func() (cli.Command, error) {
			return &ListCommand{Meta: meta}, nil
		},
		"delete": func() (cli.Command, error) {
			return &DeleteCommand{Meta: meta}, nil
		},
	}
}
