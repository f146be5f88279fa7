package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/cli"

	"github.com/flowforge/startlimit/pkg/control"
)

var _ cli.Command = &CreateCommand{}

type CreateCommand struct {
	Meta
}

func (c *CreateCommand) Help() string {
	helpText := `
Usage: limitctl create [options]

  Create a startup limit, or refresh the live limit with the same tag.
  Refreshing keeps the tag's counters and restarts its expiry clock.
` + generalOptions + `
Create Options:

  -tag=<tag>             Limit tag (required).
  -name=<name>           Display name. Defaults to the tag.
  -expr=<expr>           Predicate over JOB and MACHINE (required).
  -cost-expr=<expr>      Cost of each admitted start. Defaults to 1.
  -count=<n>             Tokens per window (required).
  -window=<seconds>      Refill window (required).
  -expires=<seconds>     Lifetime without refresh (required).
  -burst=<n>             One-shot burst reserve.
  -max-burst-cost=<n>    Largest portion of one start drawn from burst.
`
	return strings.TrimSpace(helpText)
}

func (c *CreateCommand) Synopsis() string { return "Create or refresh a startup limit" }

func (c *CreateCommand) Name() string { return "create" }

func (c *CreateCommand) Run(args []string) int {
	var req control.CreateRequest

	flags := c.FlagSet(c.Name())
	flags.StringVar(&req.Tag, "tag", "", "")
	flags.StringVar(&req.Name, "name", "", "")
	flags.StringVar(&req.Expr, "expr", "", "")
	flags.StringVar(&req.CostExpr, "cost-expr", "", "")
	flags.Int64Var(&req.Count, "count", 0, "")
	flags.Int64Var(&req.Window, "window", 0, "")
	flags.Int64Var(&req.Expires, "expires", 0, "")
	flags.Int64Var(&req.Burst, "burst", 0, "")
	flags.Int64Var(&req.MaxBurstCost, "max-burst-cost", 0, "")
	if err := flags.Parse(args); err != nil {
		c.Ui.Error(fmt.Sprintf("Error parsing flags: %s", err))
		return 1
	}
	if len(flags.Args()) != 0 {
		c.Ui.Error("This command takes no arguments")
		c.Ui.Error(commandErrorText(c.Name()))
		return 1
	}

	var missing []string
	if req.Tag == "" {
		missing = append(missing, "-tag")
	}
	if req.Expr == "" {
		missing = append(missing, "-expr")
	}
	if len(missing) > 0 {
		c.Ui.Error(fmt.Sprintf("Missing required flags: %s", strings.Join(missing, ", ")))
		c.Ui.Error(commandErrorText(c.Name()))
		return 1
	}

	client, err := c.Client()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error initializing client: %s", err))
		return 1
	}

	snap, err := client.Create(context.Background(), &req)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error creating limit: %s", err))
		return 1
	}

	c.Ui.Output(fmt.Sprintf("Limit %q created (name %q, expires %ds)", snap.Tag, snap.Name, snap.ExpiresAfter))
	return 0
}

func commandErrorText(name string) string {
	return fmt.Sprintf("For additional help try 'limitctl %s -help'", name)
}
