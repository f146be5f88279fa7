package model

import (
	"time"
)

// LimitDefinition is the declarative description of one startup throttle.
type LimitDefinition struct {
	Tag           string    `json:"tag"`
	Name          string    `json:"name,omitempty"`
	PredicateExpr string    `json:"expr"`
	CostExpr      string    `json:"cost_expr,omitempty"`
	Count         int64     `json:"count"`
	Window        int64     `json:"window"`
	Burst         int64     `json:"burst"`
	MaxBurstCost  int64     `json:"max_burst_cost"`
	ExpiresAfter  int64     `json:"expires"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	RefreshedAt   time.Time `json:"refreshed_at,omitempty"`
}

func (d *LimitDefinition) WindowDuration() time.Duration {
	return time.Duration(d.Window) * time.Second
}

func (d *LimitDefinition) ExpiresDuration() time.Duration {
	return time.Duration(d.ExpiresAfter) * time.Second
}

// ExpiresAt is the instant after which the sweeper may destroy the definition.
func (d *LimitDefinition) ExpiresAt() time.Time {
	return d.RefreshedAt.Add(d.ExpiresDuration())
}

// EraRecord captures the parameters a tag carried between two refreshes.
type EraRecord struct {
	RefreshedAt  time.Time `json:"refreshed_at"`
	Count        int64     `json:"count"`
	Window       int64     `json:"window"`
	Burst        int64     `json:"burst"`
	MaxBurstCost int64     `json:"max_burst_cost"`
	ExpiresAfter int64     `json:"expires"`
}

// LimitSnapshot is a point-in-time view of a live limit and its counters.
type LimitSnapshot struct {
	Tag          string    `json:"tag"`
	Name         string    `json:"name"`
	Expr         string    `json:"expr"`
	CostExpr     string    `json:"cost_expr,omitempty"`
	Count        int64     `json:"count"`
	Window       int64     `json:"window"`
	Burst        int64     `json:"burst"`
	MaxBurstCost int64     `json:"max_burst_cost"`
	ExpiresAfter int64     `json:"expires"`
	CreatedAt    time.Time `json:"created_at"`
	RefreshedAt  time.Time `json:"refreshed_at"`
	Skipped      uint64    `json:"skipped"`
	Ignored      uint64    `json:"ignored"`
}

// QueryResult answers a control query for a single tag.
type QueryResult struct {
	Tag     string      `json:"tag"`
	Name    string      `json:"name"`
	Skipped uint64      `json:"skipped"`
	Ignored uint64      `json:"ignored"`
	Eras    []EraRecord `json:"eras"`
}

// LimitRecord is the persisted form of a definition.
type LimitRecord struct {
	Tag           string    `gorm:"primaryKey;type:varchar(255)"`
	Name          string    `gorm:"not null"`
	PredicateExpr string    `gorm:"type:text;not null"`
	CostExpr      string    `gorm:"type:text"`
	Count         int64     `gorm:"not null"`
	Window        int64     `gorm:"not null"`
	Burst         int64     `gorm:"default:0"`
	MaxBurstCost  int64     `gorm:"default:0"`
	ExpiresAfter  int64     `gorm:"not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime:false"`
	RefreshedAt   time.Time `gorm:"index"`
}

func (LimitRecord) TableName() string {
	return "start_limits"
}

func NewLimitRecord(def *LimitDefinition) *LimitRecord {
	return &LimitRecord{
		Tag:           def.Tag,
		Name:          def.Name,
		PredicateExpr: def.PredicateExpr,
		CostExpr:      def.CostExpr,
		Count:         def.Count,
		Window:        def.Window,
		Burst:         def.Burst,
		MaxBurstCost:  def.MaxBurstCost,
		ExpiresAfter:  def.ExpiresAfter,
		CreatedAt:     def.CreatedAt,
		RefreshedAt:   def.RefreshedAt,
	}
}

func (r *LimitRecord) Definition() *LimitDefinition {
	return &LimitDefinition{
		Tag:           r.Tag,
		Name:          r.Name,
		PredicateExpr: r.PredicateExpr,
		CostExpr:      r.CostExpr,
		Count:         r.Count,
		Window:        r.Window,
		Burst:         r.Burst,
		MaxBurstCost:  r.MaxBurstCost,
		ExpiresAfter:  r.ExpiresAfter,
		CreatedAt:     r.CreatedAt,
		RefreshedAt:   r.RefreshedAt,
	}
}
