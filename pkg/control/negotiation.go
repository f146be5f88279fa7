package control

import (
	"context"
	"net/http"
	"strconv"

	"github.com/flowforge/startlimit/pkg/limiter"
	"github.com/flowforge/startlimit/pkg/model"
)

// Negotiator drives the admission controller of a remote limiter server
// from an out-of-process negotiation loop.
type Negotiator struct {
	client *Client
}

func (c *Client) Negotiator() *Negotiator {
	return &Negotiator{client: c}
}

type evaluateRequest struct {
	Job     model.Job     `json:"job"`
	Machine model.Machine `json:"machine"`
}

// BeginPass opens a new negotiation pass and returns its id.
func (n *Negotiator) BeginPass(ctx context.Context) (uint64, error) {
	var resp struct {
		PassID uint64 `json:"pass_id"`
	}
	if err := n.client.do(ctx, http.MethodPost, "/api/v1/negotiation/passes", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.PassID, nil
}

func (n *Negotiator) Evaluate(ctx context.Context, job model.Job, machine model.Machine) (limiter.Decision, error) {
	var d limiter.Decision
	err := n.client.do(ctx, http.MethodPost, "/api/v1/negotiation/evaluate", nil, evaluateRequest{Job: job, Machine: machine}, &d)
	return d, err
}

// Exhausted reports that no machine is left for jobID and returns the tags
// whose ignored counter was incremented.
func (n *Negotiator) Exhausted(ctx context.Context, jobID string) ([]string, error) {
	var resp struct {
		Ignored []string `json:"ignored"`
	}
	body := map[string]string{"job_id": jobID}
	if err := n.client.do(ctx, http.MethodPost, "/api/v1/negotiation/exhausted", nil, body, &resp); err != nil {
		return nil, err
	}
	return resp.Ignored, nil
}

func (n *Negotiator) Commit(ctx context.Context, ticket uint64) error {
	return n.release(ctx, ticket, "commit")
}

func (n *Negotiator) Rollback(ctx context.Context, ticket uint64) error {
	return n.release(ctx, ticket, "rollback")
}

func (n *Negotiator) release(ctx context.Context, ticket uint64, action string) error {
	path := "/api/v1/negotiation/tickets/" + strconv.FormatUint(ticket, 10) + "/" + action
	return n.client.do(ctx, http.MethodPost, path, nil, nil, nil)
}
