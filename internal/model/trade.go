package model

import "time"

type TradeKind string

const (
	TradeOpen   TradeKind = "open"
	TradeAdd    TradeKind = "add"
	TradeReduce TradeKind = "reduce"
	TradeClose  TradeKind = "close"
)

type TradeSource string

const (
	SourceSignal     TradeSource = "signal"
	SourceStopLoss   TradeSource = "stop_loss"
	SourceTakeProfit TradeSource = "take_profit"
)

// Trade is one executed fill. Direction is the side of the fill itself (long = buy, short = sell).
type Trade struct {
	ID                string      `db:"id" json:"id"`
	PortfolioID       string      `db:"portfolio_id" json:"portfolio_id"`
	PositionID        string      `db:"position_id" json:"position_id"`
	Seq               int64       `db:"seq" json:"seq"`
	Symbol            string      `db:"symbol" json:"symbol"`
	Direction         Direction   `db:"direction" json:"direction"`
	Kind              TradeKind   `db:"kind" json:"kind"`
	Source            TradeSource `db:"source" json:"source"`
	SignalPrice       float64     `db:"signal_price" json:"signal_price"`
	FillPrice         float64     `db:"fill_price" json:"fill_price"`
	RequestedQuantity float64     `db:"requested_quantity" json:"requested_quantity"`
	Quantity          float64     `db:"quantity" json:"quantity"`
	Slippage          float64     `db:"slippage" json:"slippage"`
	LatencyMs         int64       `db:"latency_ms" json:"latency_ms"`
	Partial           bool        `db:"partial" json:"partial"`
	Fee               float64     `db:"fee" json:"fee"`
	RealizedPnL       *float64    `db:"realized_pnl" json:"realized_pnl,omitempty"`
	ExecutedAt        time.Time   `db:"executed_at" json:"executed_at"`
}

func (t Trade) Closed() bool {
	return t.RealizedPnL != nil
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type AuditAction string

const (
	ActionApproved       AuditAction = "approved"
	ActionBlocked        AuditAction = "blocked"
	ActionLogged         AuditAction = "logged"
	ActionBreakerTripped AuditAction = "circuit-breaker-tripped"
	ActionBreakerReset   AuditAction = "circuit-breaker-reset"
	ActionResetDenied    AuditAction = "reset-denied"
)

type RiskRule string

const (
	RuleCircuitBreaker   RiskRule = "circuit_breaker"
	RuleMaxPositionSize  RiskRule = "max_position_size"
	RuleMaxTotalExposure RiskRule = "max_total_exposure"
	RuleMaxDailyLoss     RiskRule = "max_daily_loss"
	RuleMaxDrawdown      RiskRule = "max_drawdown"
	RuleCriticalEvents   RiskRule = "critical_event_rate"
)

type RiskAuditEvent struct {
	ID          string      `db:"id" json:"id"`
	PortfolioID string      `db:"portfolio_id" json:"portfolio_id"`
	Rule        RiskRule    `db:"rule" json:"rule"`
	Severity    Severity    `db:"severity" json:"severity"`
	Value       float64     `db:"value" json:"value"`
	Limit       float64     `db:"limit_value" json:"limit"`
	Action      AuditAction `db:"action" json:"action"`
	Message     string      `db:"message" json:"message"`
	TradeID     string      `db:"trade_id" json:"trade_id,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}
