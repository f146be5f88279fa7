package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/cli"
	"github.com/ryanuber/columnize"
)

var _ cli.Command = &ListCommand{}

type ListCommand struct {
	Meta
}

func (c *ListCommand) Help() string {
	helpText := `
Usage: limitctl list [options]

  List live startup limits in tag order.
` + generalOptions + `
List Options:

  -filter=<expr>    Boolean expression over the limit fields using the
                    ==, !=, in, contains and matches operators, for
                    example 'Tag matches "^gpu-" and Skipped != 0'.
`
	return strings.TrimSpace(helpText)
}

func (c *ListCommand) Synopsis() string { return "List startup limits" }

func (c *ListCommand) Name() string { return "list" }

func (c *ListCommand) Run(args []string) int {
	var filter string

	flags := c.FlagSet(c.Name())
	flags.StringVar(&filter, "filter", "", "")
	if err := flags.Parse(args); err != nil {
		c.Ui.Error(fmt.Sprintf("Error parsing flags: %s", err))
		return 1
	}

	client, err := c.Client()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error initializing client: %s", err))
		return 1
	}

	list, err := client.List(context.Background(), filter)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error listing limits: %s", err))
		return 1
	}
	if len(list.Items) == 0 {
		c.Ui.Output("No limits found")
		return 0
	}

	rows := make([]string, 0, len(list.Items)+1)
	rows = append(rows, "Tag|Name|Count|Window|Burst|Skipped|Ignored|Expires At")
	for _, item := range list.Items {
		expiresAt := item.RefreshedAt.Add(time.Duration(item.ExpiresAfter) * time.Second)
		rows = append(rows, fmt.Sprintf("%s|%s|%d|%d|%d|%d|%d|%s",
			item.Tag, item.Name, item.Count, item.Window, item.Burst,
			item.Skipped, item.Ignored, expiresAt.UTC().Format(time.RFC3339)))
	}
	c.Ui.Output(formatList(rows))
	return 0
}

func formatList(in []string) string {
	columnConf := columnize.DefaultConfig()
	columnConf.Empty = "<none>"
	return columnize.Format(in, columnConf)
}
