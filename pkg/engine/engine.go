// Package engine provides the typed catalog of downstream engines, the HTTP
// client used to call them, and the registry that tracks their health.
package engine

import "time"

// ID is a stable engine identifier (E1..E21)
type ID string

// Capability is a named operation an engine can perform
type Capability string

// Capabilities served by the platform's engines
const (
	CapRegister               Capability = "register"
	CapLogin                  Capability = "login"
	CapIdentityCreation       Capability = "identity_creation"
	CapAuditEvent             Capability = "audit_event"
	CapMetadataNormalization  Capability = "metadata_normalization"
	CapProcessedMetadataStore Capability = "processed_metadata_store"
	CapVectorSearch           Capability = "vector_search"
	CapVectorUpsert           Capability = "vector_upsert"
	CapIntentClassification   Capability = "intent_classification"
	CapRAGGeneration          Capability = "rag_generation"
	CapChat                   Capability = "chat"
	CapEmbedding              Capability = "embedding"
	CapSummarization          Capability = "summarization"
	CapTranslation            Capability = "translation"
	CapAnomalyCheck           Capability = "anomaly_check"
	CapChunking               Capability = "chunking"
	CapPolicyFetch            Capability = "policy_fetch"
	CapProfileGeneration      Capability = "profile_generation"
	CapAnalyticsEvent         Capability = "analytics_event"
	CapEligibilityCheck       Capability = "eligibility_check"
	CapDeadlineCheck          Capability = "deadline_check"
	CapSimulation             Capability = "simulation"
	CapTrustScoring           Capability = "trust_scoring"
	CapSpeechToText           Capability = "speech_to_text"
	CapTextToSpeech           Capability = "text_to_speech"
	CapDocumentParsing        Capability = "document_parsing"
)

// HealthStatus is the registry's view of an engine's availability
type HealthStatus string

const (
	// HealthUp means the last probe or call succeeded
	HealthUp HealthStatus = "UP"

	// HealthDown means the engine has failed enough consecutive calls to be avoided
	HealthDown HealthStatus = "DOWN"

	// HealthUnknown means the engine has not been probed yet
	HealthUnknown HealthStatus = "UNKNOWN"
)

// Engine describes one downstream engine: its identity, where it lives, and
// which capabilities it serves at which paths
type Engine struct {
	// ID is the stable engine identifier
	ID ID `json:"id"`

	// Name is the human-readable engine name
	Name string `json:"name"`

	// BaseURL is the engine's base address
	BaseURL string `json:"base_url"`

	// Priority orders candidates for a capability (lower wins)
	Priority int `json:"priority"`

	// Capabilities maps each served capability to its endpoint path
	Capabilities map[Capability]string `json:"capabilities"`
}

// HasCapability reports whether the engine serves the given capability
func (e *Engine) HasCapability(c Capability) bool {
	_, ok := e.Capabilities[c]
	return ok
}

// HealthState is the registry's health snapshot for one engine
type HealthState struct {
	// Status is the current health classification
	Status HealthStatus `json:"status"`

	// LastChecked is when the status last changed or was confirmed
	LastChecked time.Time `json:"last_checked"`

	// ConsecutiveFailures counts failed calls since the last success
	ConsecutiveFailures int `json:"consecutive_failures"`

	// Error is the most recent failure message, if any
	Error string `json:"error,omitempty"`
}
