package store

import (
	"time"

	"gorm.io/datatypes"
)

// DecisionRecord is one row of the decision audit log.
type DecisionRecord struct {
	ID         int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TraceID    string         `gorm:"column:trace_id;index" json:"trace_id"`
	Symbol     string         `gorm:"column:symbol;index:idx_decision_symbol_time,priority:1" json:"symbol"`
	Provenance string         `gorm:"column:provenance" json:"provenance"`
	Reason     string         `gorm:"column:reason" json:"reason,omitempty"`
	Action     string         `gorm:"column:action" json:"action"`
	Confidence float64        `gorm:"column:confidence" json:"confidence"`
	Rationale  string         `gorm:"column:rationale" json:"rationale"`
	Rule       string         `gorm:"column:rule" json:"rule,omitempty"`
	Attempts   int            `gorm:"column:attempts" json:"attempts"`
	LatencyMS  int64          `gorm:"column:latency_ms" json:"latency_ms"`
	Error      string         `gorm:"column:error" json:"error,omitempty"`
	Condition  datatypes.JSON `gorm:"column:condition" json:"condition,omitempty"`
	CreatedAt  time.Time      `gorm:"column:created_at;index:idx_decision_symbol_time,priority:2" json:"created_at"`
}

func (DecisionRecord) TableName() string { return "decision_records" }
