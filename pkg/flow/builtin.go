package flow

// Built-in flow definitions for the platform's composite operations. Each is
// plain YAML run through the same loader as operator-supplied definitions.
//
// Expression context: `request` is the original request payload, `steps.<id>`
// is that step's output data (null when the step did not succeed).
var builtinFlows = []string{
	queryFlow,
	onboardFlow,
	checkEligibilityFlow,
	simulateFlow,
	voiceQueryFlow,
	ingestPolicyFlow,
}

// queryFlow chains intent classification, vector search, grounded generation,
// and the anomaly/trust post-checks. Generation falls back to direct chat
// when no context passages are available.
const queryFlow = `
metadata:
  name: query
  description: RAG query pipeline with anomaly and trust post-checks
require_auth: true
steps:
  - id: intent_classification
    capability: intent_classification
    on_failure: degrade
    input:
      message: ${request.message}
      user_id: ${request.user_id}

  - id: vector_search
    capability: vector_search
    on_failure: degrade
    input:
      query: ${request.message}
      top_k: ${request.top_k || 5}

  - id: rag_generation
    capability: rag_generation
    on_failure: abort
    depends_on: [vector_search]
    condition: >-
      steps.vector_search.results && steps.vector_search.results.length > 0
    timeout_seconds: 20
    input:
      user_id: ${request.user_id}
      question: ${request.message}
      context_passages: >-
        ${(steps.vector_search.results || []).map(function(r){ return r.content || '' }).filter(function(c){ return c.length > 0 })}

  - id: chat
    capability: chat
    on_failure: abort
    after: [vector_search]
    condition: >-
      !(steps.vector_search && steps.vector_search.results && steps.vector_search.results.length > 0)
    timeout_seconds: 20
    input:
      user_id: ${request.user_id}
      message: ${request.message}
      session_id: ${request.session_id || ''}

  - id: anomaly_check
    capability: anomaly_check
    on_failure: degrade
    after: [rag_generation, chat]
    input:
      user_id: ${request.user_id}
      profile:
        response_length: >-
          ${String((steps.rag_generation && steps.rag_generation.answer) || (steps.chat && steps.chat.response) || '').length}

  - id: trust_scoring
    capability: trust_scoring
    on_failure: degrade
    after: [intent_classification, vector_search]
    input:
      user_id: ${request.user_id}
      data_sources: >-
        ${(steps.vector_search ? (steps.vector_search.results || []) : []).slice(0, 3).map(function(r){ return r.vector_id || '' })}
      model_confidence: >-
        ${steps.intent_classification ? (steps.intent_classification.confidence || 0.5) : 0.5}

  - id: audit
    capability: audit_event
    on_failure: degrade
    fire_and_forget: true
    after: [rag_generation, chat]
    input:
      event_type: RAG_QUERY
      source_engine: orchestrator
      user_id: ${request.user_id}
      payload:
        query: ${request.message}
        intent: >-
          ${steps.intent_classification ? steps.intent_classification.intent : 'general'}

  - id: analytics
    capability: analytics_event
    on_failure: degrade
    fire_and_forget: true
    after: [rag_generation, chat]
    input:
      event_type: RAG_QUERY
      user_id: ${request.user_id}
      properties:
        intent: >-
          ${steps.intent_classification ? steps.intent_classification.intent : 'general'}
`

// onboardFlow registers a citizen, creates their identity, normalizes and
// stores profile metadata, runs the eligibility and deadline checks in
// parallel, and generates the consolidated profile. Only registration is
// critical; every enrichment step degrades.
const onboardFlow = `
metadata:
  name: onboard
  description: Citizen onboarding pipeline
mutating: true
idempotency_fields: [phone]
steps:
  - id: register
    capability: register
    on_failure: abort
    input:
      phone: ${request.phone}
      password: ${request.password}
      name: ${request.name}
      state: ${request.state || ''}
      district: ${request.district || ''}
      language_preference: ${request.language_preference || 'en'}
      consent_data_processing: ${request.consent_data_processing !== false}

  - id: identity_creation
    capability: identity_creation
    on_failure: degrade
    depends_on: [register]
    input:
      user_id: ${steps.register.user_id}
      name: ${request.name}
      phone: ${request.phone}
      dob: ${request.date_of_birth || ''}

  - id: metadata_normalization
    capability: metadata_normalization
    on_failure: degrade
    depends_on: [register]
    input:
      user_id: ${steps.register.user_id}
      profile: ${request}

  - id: processed_metadata_store
    capability: processed_metadata_store
    on_failure: degrade
    depends_on: [register]
    after: [metadata_normalization]
    input:
      user_id: ${steps.register.user_id}
      processed_data: >-
        ${steps.metadata_normalization ? (steps.metadata_normalization.normalized || steps.metadata_normalization) : {}}
      derived_attributes: >-
        ${steps.metadata_normalization ? (steps.metadata_normalization.derived_attributes || {}) : {}}

  - id: eligibility_check
    capability: eligibility_check
    on_failure: degrade
    depends_on: [register]
    after: [metadata_normalization]
    input:
      user_id: ${steps.register.user_id}
      profile: >-
        ${steps.metadata_normalization ? (steps.metadata_normalization.normalized || steps.metadata_normalization) : {}}

  - id: deadline_check
    capability: deadline_check
    on_failure: degrade
    depends_on: [register]
    input:
      user_id: ${steps.register.user_id}
      state: ${request.state || ''}

  - id: profile_generation
    capability: profile_generation
    on_failure: degrade
    depends_on: [register]
    after: [metadata_normalization, eligibility_check, deadline_check]
    input:
      user_id: ${steps.register.user_id}
      metadata: ${steps.metadata_normalization || {}}
      eligibility: ${steps.eligibility_check || {}}
      deadlines: ${steps.deadline_check || {}}

  - id: audit
    capability: audit_event
    on_failure: degrade
    fire_and_forget: true
    depends_on: [register]
    input:
      event_type: USER_ONBOARDED
      source_engine: orchestrator
      user_id: ${steps.register.user_id}
      payload:
        phone: ${String(request.phone || '').slice(0, 4) + '****'}

  - id: analytics
    capability: analytics_event
    on_failure: degrade
    fire_and_forget: true
    depends_on: [register]
    input:
      event_type: USER_ONBOARDED
      user_id: ${steps.register.user_id}
      properties:
        state: ${request.state || ''}
`

// checkEligibilityFlow runs the deterministic eligibility check and an
// optional LLM-generated explanation of the verdict
const checkEligibilityFlow = `
metadata:
  name: check-eligibility
  description: Deterministic eligibility check with optional AI explanation
require_auth: true
steps:
  - id: eligibility_check
    capability: eligibility_check
    on_failure: abort
    input:
      user_id: ${request.user_id}
      profile: ${request.profile || {}}
      scheme_ids: ${request.scheme_ids || []}

  - id: summarization
    capability: summarization
    on_failure: degrade
    depends_on: [eligibility_check]
    condition: request.explain !== false
    timeout_seconds: 15
    input:
      text: >-
        ${'Eligibility results for user ' + request.user_id + ': ' + JSON.stringify(steps.eligibility_check.results || [])}
      max_length: 300

  - id: audit
    capability: audit_event
    on_failure: degrade
    fire_and_forget: true
    depends_on: [eligibility_check]
    input:
      event_type: ELIGIBILITY_CHECKED
      source_engine: orchestrator
      user_id: ${request.user_id}
      payload:
        eligible: ${steps.eligibility_check.eligible || 0}
        total_checked: ${steps.eligibility_check.total_schemes_checked || 0}
`

// simulateFlow runs a deterministic what-if simulation and an optional
// AI-generated explanation of the delta
const simulateFlow = `
metadata:
  name: simulate
  description: What-if simulation with optional AI explanation
require_auth: true
steps:
  - id: simulation
    capability: simulation
    on_failure: abort
    input:
      user_id: ${request.user_id}
      current_profile: ${request.current_profile || {}}
      changes: ${request.changes || {}}

  - id: summarization
    capability: summarization
    on_failure: degrade
    depends_on: [simulation]
    condition: request.explain !== false
    timeout_seconds: 15
    input:
      text: >-
        ${'Simulation for user ' + request.user_id + '. Changes: ' + JSON.stringify(request.changes || {}) + '. Before: ' + JSON.stringify(steps.simulation.before || {}) + '. After: ' + JSON.stringify(steps.simulation.after || {}) + '.'}
      max_length: 300

  - id: audit
    capability: audit_event
    on_failure: degrade
    fire_and_forget: true
    depends_on: [simulation]
    input:
      event_type: SIMULATION_RUN
      source_engine: orchestrator
      user_id: ${request.user_id}
      payload:
        changes: ${request.changes || {}}
`

// voiceQueryFlow classifies the caller's intent, routes to the matching
// engine, translates the answer when needed, and synthesizes speech
const voiceQueryFlow = `
metadata:
  name: voice-query
  description: Voice query pipeline with intent-based routing
steps:
  - id: intent_classification
    capability: intent_classification
    on_failure: degrade
    input:
      message: ${request.text}
      user_id: ${request.user_id || 'anonymous'}

  - id: eligibility_check
    capability: eligibility_check
    on_failure: degrade
    after: [intent_classification]
    condition: >-
      (steps.intent_classification ? steps.intent_classification.intent : 'general') == 'eligibility'
    input:
      user_id: ${request.user_id || 'anonymous'}
      profile: {}

  - id: vector_search
    capability: vector_search
    on_failure: degrade
    after: [intent_classification]
    condition: >-
      (steps.intent_classification ? steps.intent_classification.intent : 'general') == 'scheme_query'
    input:
      query: ${request.text}
      top_k: 3

  - id: rag_generation
    capability: rag_generation
    on_failure: degrade
    depends_on: [vector_search]
    condition: >-
      steps.vector_search.results && steps.vector_search.results.length > 0
    timeout_seconds: 20
    input:
      user_id: ${request.user_id || 'anonymous'}
      question: ${request.text}
      context_passages: >-
        ${(steps.vector_search.results || []).map(function(r){ return r.content || '' }).filter(function(c){ return c.length > 0 })}

  - id: deadline_check
    capability: deadline_check
    on_failure: degrade
    after: [intent_classification]
    condition: >-
      (steps.intent_classification ? steps.intent_classification.intent : 'general') == 'deadline'
    input:
      user_id: ${request.user_id || 'anonymous'}

  - id: chat
    capability: chat
    on_failure: degrade
    after: [intent_classification, eligibility_check, rag_generation, deadline_check]
    condition: >-
      !steps.eligibility_check && !steps.rag_generation && !steps.deadline_check
    timeout_seconds: 20
    input:
      user_id: ${request.user_id || 'anonymous'}
      message: ${request.text}

  - id: translation
    capability: translation
    on_failure: degrade
    after: [eligibility_check, rag_generation, deadline_check, chat]
    condition: >-
      (request.language || 'hindi') != 'en' && (request.language || 'hindi') != 'english'
    input:
      text: >-
        ${(steps.rag_generation && steps.rag_generation.answer) || (steps.chat && steps.chat.response) || ''}
      source_lang: en
      target_lang: ${request.language || 'hindi'}

  - id: text_to_speech
    capability: text_to_speech
    on_failure: degrade
    after: [translation, rag_generation, chat]
    input:
      text: >-
        ${(steps.translation && steps.translation.translated) || (steps.rag_generation && steps.rag_generation.answer) || (steps.chat && steps.chat.response) || ''}
      language: ${request.language || 'hindi'}
      user_id: ${request.user_id || 'anonymous'}

  - id: audit
    capability: audit_event
    on_failure: degrade
    fire_and_forget: true
    after: [text_to_speech]
    input:
      event_type: VOICE_QUERY
      source_engine: orchestrator
      user_id: ${request.user_id || 'anonymous'}
      payload:
        query: ${request.text}
        language: ${request.language || 'hindi'}
`

// ingestPolicyFlow fetches a policy document, parses and chunks it, embeds
// the chunks, and upserts them into the vector database. The upsert needs
// both chunks and embeddings; it is skipped when either is missing.
const ingestPolicyFlow = `
metadata:
  name: ingest-policy
  description: Policy document ingestion pipeline
mutating: true
idempotency_fields: [source_url]
require_auth: true
steps:
  - id: policy_fetch
    capability: policy_fetch
    on_failure: abort
    timeout_seconds: 30
    input:
      source_url: ${request.source_url}
      source_type: ${request.source_type || 'web'}

  - id: document_parsing
    capability: document_parsing
    on_failure: degrade
    depends_on: [policy_fetch]
    timeout_seconds: 25
    input:
      document_id: ${steps.policy_fetch.document_id || ''}
      title: ${steps.policy_fetch.title || request.source_url}
      text: ${steps.policy_fetch.text || steps.policy_fetch.content || ''}

  - id: chunking
    capability: chunking
    on_failure: degrade
    depends_on: [policy_fetch]
    input:
      document_id: ${steps.policy_fetch.document_id || ''}
      text: ${steps.policy_fetch.text || steps.policy_fetch.content || ''}
      strategy: sentence
      chunk_size: 512
      overlap: 64
      metadata:
        title: ${steps.policy_fetch.title || request.source_url}
        source_url: ${request.source_url}

  - id: embedding
    capability: embedding
    on_failure: degrade
    depends_on: [chunking]
    timeout_seconds: 20
    input:
      texts: >-
        ${(steps.chunking.chunks || []).map(function(c){ return c.content || '' })}

  - id: vector_upsert
    capability: vector_upsert
    on_failure: degrade
    depends_on: [chunking, embedding]
    input:
      vectors: >-
        ${(function(){
          var chunks = steps.chunking.chunks || [];
          var embs = steps.embedding.embeddings || [];
          if (embs.length != chunks.length) { return [] }
          var out = [];
          for (var i = 0; i < chunks.length; i++) {
            out.push({
              chunk_id: chunks[i].chunk_id || ((steps.policy_fetch.document_id || 'doc') + '_' + i),
              document_id: steps.policy_fetch.document_id || '',
              content: chunks[i].content || '',
              embedding: embs[i],
              namespace: 'policies',
              metadata: { source_url: request.source_url, chunk_index: i }
            })
          }
          return out
        })()}

  - id: metadata_normalization
    capability: metadata_normalization
    on_failure: degrade
    depends_on: [policy_fetch]
    after: [document_parsing]
    input:
      user_id: >-
        ${'policy:' + (steps.policy_fetch.policy_id || steps.policy_fetch.document_id || '')}
      name: ${steps.policy_fetch.title || request.source_url}
      state: >-
        ${steps.document_parsing ? (steps.document_parsing.state || '') : ''}

  - id: audit
    capability: audit_event
    on_failure: degrade
    fire_and_forget: true
    depends_on: [policy_fetch]
    input:
      event_type: POLICY_INGESTED
      source_engine: orchestrator
      user_id: system
      payload:
        document_id: ${steps.policy_fetch.document_id || ''}
        source_url: ${request.source_url}
        chunks_created: >-
          ${steps.chunking ? ((steps.chunking.chunks || []).length) : 0}
`
