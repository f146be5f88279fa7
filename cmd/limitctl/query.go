package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/cli"
)

var _ cli.Command = &QueryCommand{}

type QueryCommand struct {
	Meta
}

func (c *QueryCommand) Help() string {
	helpText := `
Usage: limitctl query [options]

  Print the refresh history of a limit, one line per era, followed by a
  final line of the form "tag name skipped ignored".
` + generalOptions + `
Query Options:

  -tag=<tag>    Limit tag (required).
`
	return strings.TrimSpace(helpText)
}

func (c *QueryCommand) Synopsis() string { return "Show the counters of a startup limit" }

func (c *QueryCommand) Name() string { return "query" }

func (c *QueryCommand) Run(args []string) int {
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

	result, err := client.Query(context.Background(), tag)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error querying limit: %s", err))
		return 1
	}

	for i, era := range result.Eras {
		c.Ui.Output(fmt.Sprintf("era=%d refreshed=%s count=%d window=%d burst=%d max_burst_cost=%d expires=%d",
			i+1, era.RefreshedAt.UTC().Format(time.RFC3339), era.Count, era.Window, era.Burst, era.MaxBurstCost, era.ExpiresAfter))
	}
	c.Ui.Output(fmt.Sprintf("%s %s %d %d", result.Tag, result.Name, result.Skipped, result.Ignored))
	return 0
}
