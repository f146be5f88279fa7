package limiter

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/flowforge/startlimit/pkg/expr"
	"github.com/flowforge/startlimit/pkg/metrics"
	"github.com/flowforge/startlimit/pkg/model"
)

// Decision is the controller's answer for one (job, machine) pairing.
type Decision struct {
	Verdict  Verdict  `json:"verdict"`
	Applied  []string `json:"applied,omitempty"`
	Declined []string `json:"declined,omitempty"`
	Ticket   uint64   `json:"ticket,omitempty"`
}

// Controller is the admission decision engine consulted by the negotiation
// loop before it commits a match. A pass is driven by one negotiator, so
// Evaluate calls are serialized; control operations and the sweeper run
// concurrently and only contend on the tags they touch.
type Controller struct {
	registry *Registry
	logger   *zap.Logger

	mu         sync.Mutex
	pass       *pass
	lookahead  int
	nextPass   uint64
	nextTicket uint64
}

// NewController returns a controller with an open pass. lookahead bounds the
// tentative admissions outstanding in a pass; zero means unbounded.
func NewController(registry *Registry, lookahead int, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		registry:  registry,
		logger:    logger,
		lookahead: lookahead,
	}
	c.BeginPass()
	return c
}

func (c *Controller) SetLookahead(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookahead = n
}

// BeginPass discards the previous pass ledger, including withdrawn jobs and
// outstanding tickets, and returns the new pass id.
func (c *Controller) BeginPass() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextPass++
	c.pass = newPass(c.nextPass)
	metrics.OutstandingTickets.Set(0)
	return c.pass.id
}

func (c *Controller) PassID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pass.id
}

func (c *Controller) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pass.tickets)
}

// Evaluate decides whether job may start on machine. It never fails: broken
// limits are skipped for this pairing and logged.
func (c *Controller) Evaluate(job model.Job, machine model.Machine) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.pass.job(job.ID)
	if rec.withdrawn {
		return Decision{Verdict: Withdrawn}
	}

	cands := c.applicable(job, machine)
	if len(cands) == 0 {
		rec.admitted++
		return Decision{Verdict: Admitted}
	}

	applied := make([]string, len(cands))
	for i, cand := range cands {
		applied[i] = cand.e.tag
	}

	if c.lookahead > 0 && len(c.pass.tickets) >= c.lookahead {
		for _, tag := range applied {
			metrics.Decisions.WithLabelValues(tag, Deferred.String()).Inc()
		}
		return Decision{Verdict: Deferred, Applied: applied}
	}

	charged, declined := c.registry.debit(cands, c.registry.clock.Now())
	if len(declined) > 0 {
		tags := make([]string, len(declined))
		for i, e := range declined {
			e.skipped.Add(1)
			rec.recordDecline(e)
			metrics.Skipped.WithLabelValues(e.tag).Inc()
			metrics.Decisions.WithLabelValues(e.tag, Declined.String()).Inc()
			tags[i] = e.tag
		}
		c.logger.Debug("pairing declined",
			zap.String("job_id", job.ID),
			zap.String("machine", machine.Name),
			zap.Strings("tags", tags),
		)
		return Decision{Verdict: Declined, Applied: applied, Declined: tags}
	}

	rec.admitted++
	if len(charged) == 0 {
		return Decision{Verdict: Admitted}
	}
	tags := make([]string, len(charged))
	for i, e := range charged {
		metrics.Decisions.WithLabelValues(e.tag, Admitted.String()).Inc()
		tags[i] = e.tag
	}
	c.nextTicket++
	c.pass.tickets[c.nextTicket] = struct{}{}
	metrics.OutstandingTickets.Set(float64(len(c.pass.tickets)))
	return Decision{Verdict: Admitted, Applied: tags, Ticket: c.nextTicket}
}

// applicable evaluates every live predicate and cost against the pairing.
// Undefined and failed evaluations fold to "not applicable" here and only here.
func (c *Controller) applicable(job model.Job, machine model.Machine) []candidate {
	var cands []candidate
	for _, e := range c.registry.live() {
		spec := e.spec.Load()

		res := spec.predicate.Predicate(job.Attrs, machine.Attrs)
		if res.Kind == expr.Error {
			c.evaluationFailed(e.tag, "predicate", job, machine, res.Err)
		}
		if !res.Applies() {
			continue
		}

		cost := 1.0
		if spec.cost != nil {
			res := spec.cost.Cost(job.Attrs, machine.Attrs)
			switch res.Kind {
			case expr.Value:
				cost = res.Number
			case expr.Error:
				c.evaluationFailed(e.tag, "cost", job, machine, res.Err)
				continue
			default:
				c.evaluationFailed(e.tag, "cost", job, machine, fmt.Errorf("cost %q is %s", spec.cost.String(), res.Kind))
				continue
			}
		}
		cands = append(cands, candidate{e: e, cost: cost})
	}
	return cands
}

func (c *Controller) evaluationFailed(tag, stage string, job model.Job, machine model.Machine, err error) {
	metrics.EvaluationErrors.WithLabelValues(tag, stage).Inc()
	c.logger.Warn("limit evaluation failed, treating as not applicable",
		zap.String("tag", tag),
		zap.String("stage", stage),
		zap.String("job_id", job.ID),
		zap.String("machine", machine.Name),
		zap.Error(err),
	)
}

// JobExhausted is called by the negotiation loop once no machine is left
// for a job in the current pass. If limits alone kept the job from matching,
// it is withdrawn for the rest of the pass and each contributing limit's
// ignored counter is incremented once. The incremented tags are returned.
func (c *Controller) JobExhausted(jobID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.pass.jobs[jobID]
	if !exhaustedForPass(rec) {
		return nil
	}
	rec.withdrawn = true

	var tags []string
	for _, e := range rec.declinedEntries() {
		if e.dead.Load() {
			continue
		}
		e.ignored.Add(1)
		metrics.Ignored.WithLabelValues(e.tag).Inc()
		tags = append(tags, e.tag)
	}
	c.logger.Info("job withdrawn for negotiation pass",
		zap.String("job_id", jobID),
		zap.Uint64("pass", c.pass.id),
		zap.Strings("tags", tags),
	)
	return tags
}

// Commit records that the negotiation loop started the matched job.
func (c *Controller) Commit(ticket uint64) error {
	return c.release(ticket)
}

// Rollback records that an admitted match was abandoned. The debited cost is
// not refunded; only the lookahead slot is released.
func (c *Controller) Rollback(ticket uint64) error {
	return c.release(ticket)
}

func (c *Controller) release(ticket uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pass.tickets[ticket]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTicket, ticket)
	}
	delete(c.pass.tickets, ticket)
	metrics.OutstandingTickets.Set(float64(len(c.pass.tickets)))
	return nil
}
