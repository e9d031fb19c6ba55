package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("valid definition", func(t *testing.T) {
		def, err := Parse([]byte(`
metadata:
  name: test-flow
  description: A test flow
mutating: true
idempotency_fields: [phone]
steps:
  - id: first
    capability: register
    on_failure: abort
    input:
      phone: ${request.phone}
  - id: second
    capability: eligibility_check
    depends_on: [first]
`))
		require.NoError(t, err)
		assert.Equal(t, "test-flow", def.Name)
		assert.True(t, def.Mutating)
		assert.Equal(t, []string{"phone"}, def.IdempotencyFields)
		require.Len(t, def.Steps, 2)
		assert.Equal(t, PolicyAbort, def.Steps[0].OnFailure)

		// Unspecified policy defaults to abort
		assert.Equal(t, PolicyAbort, def.Steps[1].OnFailure)
	})

	t.Run("missing name", func(t *testing.T) {
		_, err := Parse([]byte(`
steps:
  - id: only
    capability: chat
`))
		assert.Error(t, err)
	})

	t.Run("duplicate step IDs", func(t *testing.T) {
		_, err := Parse([]byte(`
metadata:
  name: dup
steps:
  - id: a
    capability: chat
  - id: a
    capability: chat
`))
		assert.Error(t, err)
	})

	t.Run("forward dependency rejected", func(t *testing.T) {
		_, err := Parse([]byte(`
metadata:
  name: fwd
steps:
  - id: a
    capability: chat
    depends_on: [b]
  - id: b
    capability: chat
`))
		assert.Error(t, err)
	})

	t.Run("unknown dependency rejected", func(t *testing.T) {
		_, err := Parse([]byte(`
metadata:
  name: missing-dep
steps:
  - id: a
    capability: chat
    after: [ghost]
`))
		assert.Error(t, err)
	})

	t.Run("dependency on fire-and-forget step rejected", func(t *testing.T) {
		_, err := Parse([]byte(`
metadata:
  name: detached-dep
steps:
  - id: audit
    capability: audit_event
    fire_and_forget: true
  - id: a
    capability: chat
    depends_on: [audit]
`))
		assert.Error(t, err)
	})

	t.Run("invalid failure policy rejected", func(t *testing.T) {
		_, err := Parse([]byte(`
metadata:
  name: bad-policy
steps:
  - id: a
    capability: chat
    on_failure: explode
`))
		assert.Error(t, err)
	})
}

func TestStore(t *testing.T) {
	store := NewStore()

	def, err := Parse([]byte(`
metadata:
  name: sample
steps:
  - id: only
    capability: chat
`))
	require.NoError(t, err)

	require.NoError(t, store.Register(def))

	t.Run("get", func(t *testing.T) {
		got, err := store.Get("sample")
		require.NoError(t, err)
		assert.Equal(t, "sample", got.Name)
	})

	t.Run("duplicate registration rejected", func(t *testing.T) {
		err := store.Register(def)
		assert.ErrorIs(t, err, ErrFlowAlreadyExists)
	})

	t.Run("unknown flow", func(t *testing.T) {
		_, err := store.Get("nope")
		assert.ErrorIs(t, err, ErrFlowNotFound)
	})
}

func TestRegisterBuiltins(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.RegisterBuiltins())

	names := make(map[string]*Definition)
	for _, def := range store.List() {
		names[def.Name] = def
	}

	for _, name := range []string{"query", "onboard", "check-eligibility", "simulate", "voice-query", "ingest-policy"} {
		assert.Contains(t, names, name)
	}

	t.Run("onboard is mutating and keyed by phone", func(t *testing.T) {
		onboard := names["onboard"]
		require.NotNil(t, onboard)
		assert.True(t, onboard.Mutating)
		assert.Equal(t, []string{"phone"}, onboard.IdempotencyFields)

		register, ok := onboard.Step("register")
		require.True(t, ok)
		assert.Equal(t, PolicyAbort, register.OnFailure)
	})

	t.Run("ingest-policy upsert needs chunks and embeddings", func(t *testing.T) {
		ingest := names["ingest-policy"]
		require.NotNil(t, ingest)

		upsert, ok := ingest.Step("vector_upsert")
		require.True(t, ok)
		assert.ElementsMatch(t, []string{"chunking", "embedding"}, upsert.DependsOn)
		assert.Equal(t, PolicyDegrade, upsert.OnFailure)
	})

	t.Run("audit steps are fire-and-forget", func(t *testing.T) {
		for name, def := range names {
			for _, step := range def.Steps {
				if step.Capability == "audit_event" || step.Capability == "analytics_event" {
					assert.True(t, step.FireAndForget, "flow %s step %s", name, step.ID)
				}
			}
		}
	})
}
