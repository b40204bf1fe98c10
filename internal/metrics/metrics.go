package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow graph metrics
	WorkflowsLoaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atelier_workflows_loaded_total",
			Help: "Total number of workflows loaded into the graph store",
		},
	)

	WorkflowsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_workflows_created_total",
			Help: "Total number of workflows created",
		},
		[]string{"mode"},
	)

	WorkflowsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atelier_workflows_deleted_total",
			Help: "Total number of workflows deleted",
		},
	)

	WorkflowSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_workflow_saves_total",
			Help: "Total number of workflow persistence calls",
		},
		[]string{"payload", "status"},
	)

	// Template catalogue metrics
	TemplatesLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_templates_loaded_total",
			Help: "Total number of workflow templates loaded",
		},
		[]string{"mode"},
	)

	TemplateLoadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_template_load_errors_total",
			Help: "Total number of template load failures by reason",
		},
		[]string{"reason"},
	)

	// Router evaluation metrics
	RouterEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_router_evaluations_total",
			Help: "Total number of router evaluations by outcome",
		},
		[]string{"outcome"},
	)

	RouterConditionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_router_condition_errors_total",
			Help: "Total number of condition compile failures by kind",
		},
		[]string{"kind"},
	)

	// Pipeline metrics
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_messages_processed_total",
			Help: "Total number of chat messages run through a pipeline",
		},
		[]string{"mode", "status"},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atelier_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Conversation cache metrics
	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atelier_conversations_created_total",
			Help: "Total number of conversations created",
		},
	)

	ConversationCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atelier_conversation_cache_hits_total",
			Help: "Conversation local cache hits",
		},
	)

	ConversationCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atelier_conversation_cache_misses_total",
			Help: "Conversation local cache misses",
		},
	)

	ConversationCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "atelier_conversation_cache_size",
			Help: "Number of conversations held in the local cache",
		},
	)

	ConversationCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atelier_conversation_cache_evictions_total",
			Help: "Conversations evicted from the local cache",
		},
	)

	// Collaborator (retrieval / model runner) metrics
	CollaboratorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_collaborator_requests_total",
			Help: "Requests to external backend collaborators",
		},
		[]string{"service", "status"},
	)

	CollaboratorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atelier_collaborator_latency_seconds",
			Help:    "Latency of external backend collaborator calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atelier_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Event feed metrics
	EventClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "atelier_event_clients_connected",
			Help: "Number of websocket event feed clients currently connected",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_events_published_total",
			Help: "Total number of events published to the feed",
		},
		[]string{"type"},
	)
)
