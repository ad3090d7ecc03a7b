package external

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/clinical-trial-matcher/internal/domain"
)

// MockCompleter is a mock implementation of the Completer interface
type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, description string) (string, error) {
	args := m.Called(ctx, description)
	return args.String(0), args.Error(1)
}

func (m *MockCompleter) Model() string {
	return "mock-model"
}

const validRules = `{
	"response": "rules",
	"inclusion_criterium": [{"rule": {"type": "age", "min": 18}, "weight": 1.0}],
	"exclusion_criterium": []
}`

func TestResilientTranslator_Translate(t *testing.T) {
	ctx := context.Background()

	t.Run("Caches successful translations", func(t *testing.T) {
		client := new(MockCompleter)
		client.On("Complete", ctx, "Adults only").Return(validRules, nil).Once()
		cache := NewMemoryRuleCache(10, time.Minute)

		translator := NewResilientTranslator(client, cache, DefaultBreakerSettings, newTestLogger())

		doc, err := translator.Translate(ctx, "Adults only")
		require.NoError(t, err)
		assert.Len(t, doc.Inclusion, 1)

		// Second call is served from cache even with different spacing
		doc2, err := translator.Translate(ctx, "  Adults   only ")
		require.NoError(t, err)
		assert.Equal(t, doc.Len(), doc2.Len())

		client.AssertNumberOfCalls(t, "Complete", 1)
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("Does not cache rejected descriptions", func(t *testing.T) {
		client := new(MockCompleter)
		client.On("Complete", ctx, "bake a cake").
			Return(`{"response": "error", "message": "Invalid clinical trial definition."}`, nil)
		cache := NewMemoryRuleCache(10, time.Minute)

		translator := NewResilientTranslator(client, cache, DefaultBreakerSettings, newTestLogger())

		for i := 0; i < 2; i++ {
			_, err := translator.Translate(ctx, "bake a cake")
			var te *domain.TranslatorError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, domain.TranslatorRejected, te.Kind)
		}
		client.AssertNumberOfCalls(t, "Complete", 2)
		assert.Equal(t, 0, cache.Len())
	})

	t.Run("Passes through typed rule errors", func(t *testing.T) {
		client := new(MockCompleter)
		client.On("Complete", ctx, "trial").
			Return(`{"response": "rules", "inclusion_criterium": [{"rule": {"type": "age"}}], "exclusion_criterium": []}`, nil)

		translator := NewResilientTranslator(client, nil, DefaultBreakerSettings, newTestLogger())
		_, err := translator.Translate(ctx, "trial")

		var pe *domain.RuleParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "inclusion_criterium[0].weight", pe.Path)
	})

	t.Run("Empty description", func(t *testing.T) {
		translator := NewResilientTranslator(new(MockCompleter), nil, DefaultBreakerSettings, newTestLogger())
		_, err := translator.Translate(ctx, " ")
		assert.ErrorIs(t, err, domain.ErrEmptyDescription)
	})
}

func TestResilientTranslator_CircuitBreakerOpens(t *testing.T) {
	ctx := context.Background()
	transportErr := domain.NewTranslatorError(domain.TranslatorTransport, "API returned status 503", nil)

	client := new(MockCompleter)
	client.On("Complete", ctx, "trial").Return("", transportErr)

	settings := DefaultBreakerSettings
	settings.Timeout = time.Hour
	translator := NewResilientTranslator(client, nil, settings, newTestLogger())

	for i := 0; i < 3; i++ {
		_, err := translator.Translate(ctx, "trial")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, translator.State())

	_, err := translator.Translate(ctx, "trial")
	var te *domain.TranslatorError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.TranslatorTransport, te.Kind)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	client.AssertNumberOfCalls(t, "Complete", 3)
}

func TestCacheKey(t *testing.T) {
	a := CacheKey("m", "Adults over 50\n and women")
	b := CacheKey("m", " Adults over 50 and   women ")
	c := CacheKey("other-model", "Adults over 50 and women")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "trial-matcher:rules:")
}
