package domain

import (
	"context"
)

// EventBus carries pipeline events between the API and the analysis worker.
// Go channels back the Community tier, NATS the Pro tier.
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic until the subscription is dropped.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope for every event.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type" yaml:"type"`

	ChannelBufferSize int `json:"channelBufferSize" yaml:"channel_buffer_size"`

	NATSUrl           string `json:"natsUrl" yaml:"nats_url"`
	NATSToken         string `json:"-" yaml:"nats_token"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"nats_max_reconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"nats_reconnect_wait"` // seconds
}

// AllTenants subscribes to a topic across every tenant. It cannot be
// published to.
const AllTenants = "*"

// Pipeline topics. NATS subjects prefix them with "kestrel.<tenant>.".
const (
	TopicTransactionsIngested = "transactions.ingested"
	TopicAnalysisCompleted    = "analysis.completed"
	TopicAlert                = "alert"
)

// IngestedEvent is published after new transactions are stored.
type IngestedEvent struct {
	CompanyID string   `json:"companyId"`
	TraceID   string   `json:"traceId,omitempty"`
	UniqueIDs []string `json:"uniqueIds"`
}

// AnalysisCompletedEvent is published after the worker persists an analysis.
type AnalysisCompletedEvent struct {
	CompanyID             string  `json:"companyId"`
	ReportID              string  `json:"reportId"`
	SimulationID          string  `json:"simulationId"`
	SurvivalProbability   float64 `json:"survivalProbability"`
	InsolvencyProbability float64 `json:"insolvencyProbability"`
	RulesTriggered        int     `json:"rulesTriggered"`
	AnomalyFlags          int     `json:"anomalyFlags"`
}

// AlertEvent is published when an analysis crosses an alert threshold.
type AlertEvent struct {
	CompanyID string   `json:"companyId"`
	Reasons   []string `json:"reasons"`
}
