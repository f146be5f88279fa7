package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/cli"
)

var _ cli.Command = &DeleteCommand{}

type DeleteCommand struct {
	Meta
}

func (c *DeleteCommand) Help() string {
	helpText := `
Usage: limitctl delete [options]

  Destroy a limit together with its counters.
` + generalOptions + `
Delete Options:

  -tag=<tag>    Limit tag (required).
`
	return strings.TrimSpace(helpText)
}

func (c *DeleteCommand) Synopsis() string { return "Delete a startup limit" }

func (c *DeleteCommand) Name() string { return "delete" }

func (c *DeleteCommand) Run(args []string) int {
	var tag string

	flags := c.FlagSet(c.Name())
	flags.StringVar(&tag, "tag", "", "")
	if err := flags.Parse(args); err != nil {
		c.Ui.Error(fmt.Sprintf("Error parsing flags: %s", err))
		return 1
	}
	if tag == "" {
		c.Ui.Error("Missing required flag: -tag")
		c.Ui.Error(commandErrorText(c.Name()))
		return 1
	}

	client, err := c.Client()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error initializing client: %s", err))
		return 1
	}
	if err := client.Delete(context.Background(), tag); err != nil {
		c.Ui.Error(fmt.Sprintf("Error deleting limit: %s", err))
		return 1
	}

	c.Ui.Output(fmt.Sprintf("Limit %q deleted", tag))
	return 0
}
