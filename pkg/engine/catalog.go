package engine

import "fmt"

// Default ports for each engine in local development. In production these
// become service DNS names supplied through config overrides.
var defaultPorts = map[ID]int{
	"E1":  8001,
	"E2":  8002,
	"E3":  8003,
	"E4":  8004,
	"E5":  8005,
	"E6":  8006,
	"E7":  8007,
	"E8":  8008,
	"E10": 8010,
	"E11": 8011,
	"E12": 8012,
	"E13": 8013,
	"E15": 8015,
	"E16": 8016,
	"E17": 8017,
	"E19": 8019,
	"E20": 8020,
	"E21": 8021,
}

// DefaultCatalog returns the platform's static engine catalog. Base URLs
// derive from baseHost plus each engine's default port; overrides replace the
// whole base URL for an engine ID.
func DefaultCatalog(baseHost string, overrides map[string]string) []Engine {
	urlFor := func(id ID) string {
		if overrides != nil {
			if u, ok := overrides[string(id)]; ok {
				return u
			}
		}
		return fmt.Sprintf("%s:%d", baseHost, defaultPorts[id])
	}

	return []Engine{
		{
			ID:      "E1",
			Name:    "login-register",
			BaseURL: urlFor("E1"),
			Capabilities: map[Capability]string{
				CapRegister: "/auth/register",
				CapLogin:    "/auth/login",
			},
		},
		{
			ID:      "E2",
			Name:    "identity",
			BaseURL: urlFor("E2"),
			Capabilities: map[Capability]string{
				CapIdentityCreation: "/identity/create",
			},
		},
		{
			ID:      "E3",
			Name:    "raw-data-store",
			BaseURL: urlFor("E3"),
			Capabilities: map[Capability]string{
				CapAuditEvent: "/raw-data/events",
			},
		},
		{
			ID:      "E4",
			Name:    "metadata",
			BaseURL: urlFor("E4"),
			Capabilities: map[Capability]string{
				CapMetadataNormalization: "/metadata/process",
			},
		},
		{
			ID:      "E5",
			Name:    "processed-metadata",
			BaseURL: urlFor("E5"),
			Capabilities: map[Capability]string{
				CapProcessedMetadataStore: "/processed-metadata/store",
			},
		},
		{
			ID:      "E6",
			Name:    "vector-database",
			BaseURL: urlFor("E6"),
			Capabilities: map[Capability]string{
				CapVectorSearch: "/vectors/search",
				CapVectorUpsert: "/vectors/upsert/batch",
			},
		},
		{
			ID:      "E7",
			Name:    "neural-network",
			BaseURL: urlFor("E7"),
			Capabilities: map[Capability]string{
				CapIntentClassification: "/ai/intent",
				CapRAGGeneration:        "/ai/rag",
				CapChat:                 "/ai/chat",
				CapEmbedding:            "/ai/embeddings",
				CapSummarization:        "/ai/summarize",
				CapTranslation:          "/ai/translate",
			},
		},
		{
			ID:      "E8",
			Name:    "anomaly-detection",
			BaseURL: urlFor("E8"),
			Capabilities: map[Capability]string{
				CapAnomalyCheck: "/anomaly/check",
			},
		},
		{
			ID:      "E10",
			Name:    "chunks",
			BaseURL: urlFor("E10"),
			Capabilities: map[Capability]string{
				CapChunking: "/chunks/create",
			},
		},
		{
			ID:      "E11",
			Name:    "policy-fetching",
			BaseURL: urlFor("E11"),
			Capabilities: map[Capability]string{
				CapPolicyFetch: "/schemes/fetch",
			},
		},
		{
			ID:      "E12",
			Name:    "json-user-info",
			BaseURL: urlFor("E12"),
			Capabilities: map[Capability]string{
				CapProfileGeneration: "/profile/generate",
			},
		},
		{
			ID:      "E13",
			Name:    "analytics-warehouse",
			BaseURL: urlFor("E13"),
			Capabilities: map[Capability]string{
				CapAnalyticsEvent: "/analytics/event",
			},
		},
		{
			ID:      "E15",
			Name:    "eligibility-rules",
			BaseURL: urlFor("E15"),
			Capabilities: map[Capability]string{
				CapEligibilityCheck: "/eligibility/check",
			},
		},
		{
			ID:      "E16",
			Name:    "deadline-monitoring",
			BaseURL: urlFor("E16"),
			Capabilities: map[Capability]string{
				CapDeadlineCheck: "/deadlines/check",
			},
		},
		{
			ID:      "E17",
			Name:    "simulation",
			BaseURL: urlFor("E17"),
			Capabilities: map[Capability]string{
				CapSimulation: "/simulate/what-if",
			},
		},
		{
			ID:      "E19",
			Name:    "trust-scoring",
			BaseURL: urlFor("E19"),
			Capabilities: map[Capability]string{
				CapTrustScoring: "/trust/score",
			},
		},
		{
			ID:      "E20",
			Name:    "speech-interface",
			BaseURL: urlFor("E20"),
			Capabilities: map[Capability]string{
				CapSpeechToText: "/speech/stt",
				CapTextToSpeech: "/speech/tts",
			},
		},
		{
			ID:      "E21",
			Name:    "doc-understanding",
			BaseURL: urlFor("E21"),
			Capabilities: map[Capability]string{
				CapDocumentParsing: "/documents/parse",
			},
		},
	}
}
