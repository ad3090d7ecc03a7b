package external

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/clinical-trial-matcher/internal/domain"
)

// Completer returns the raw JSON answer of a language model for a trial description.
type Completer interface {
	Complete(ctx context.Context, description string) (string, error)
	Model() string
}

// BreakerSettings tunes the translator circuit breaker.
type BreakerSettings struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	MinRequests uint32
	FailureRate float64
}

// DefaultBreakerSettings trips after 60% of at least 3 requests fail.
var DefaultBreakerSettings = BreakerSettings{
	MaxRequests: 3,
	Interval:    30 * time.Second,
	Timeout:     60 * time.Second,
	MinRequests: 3,
	FailureRate: 0.6,
}

// ResilientTranslator implements domain.RuleTranslator on top of a Completer with a
// circuit breaker and a translation cache. Only well-formed rule documents are cached.
type ResilientTranslator struct {
	client  Completer
	breaker *gobreaker.CircuitBreaker
	cache   domain.RuleCache
	logger  *logrus.Logger
}

// NewResilientTranslator creates a translator. cache may be nil.
func NewResilientTranslator(client Completer, cache domain.RuleCache, settings BreakerSettings, logger *logrus.Logger) *ResilientTranslator {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "RuleTranslator",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= settings.MinRequests && failureRatio >= settings.FailureRate
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &ResilientTranslator{
		client:  client,
		breaker: breaker,
		cache:   cache,
		logger:  logger,
	}
}

// Translate implements domain.RuleTranslator.
func (t *ResilientTranslator) Translate(ctx context.Context, description string) (*domain.RuleDocument, error) {
	if strings.TrimSpace(description) == "" {
		return nil, domain.ErrEmptyDescription
	}
	key := CacheKey(t.client.Model(), description)

	// Check cache first
	if doc := t.cached(ctx, key); doc != nil {
		return doc, nil
	}

	result, err := t.breaker.Execute(func() (interface{}, error) {
		return t.client.Complete(ctx, description)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.NewTranslatorError(domain.TranslatorTransport, "rule translator unavailable (circuit breaker open)", err)
		}
		return nil, err
	}

	doc, err := domain.ParseRuleDocument([]byte(result.(string)))
	if err != nil {
		return nil, err
	}

	if t.cache != nil {
		if err := t.cache.Set(ctx, key, doc.Raw); err != nil {
			t.logger.WithError(err).Warn("Failed to cache rule document")
		}
	}
	return doc, nil
}

// State returns the circuit breaker state.
func (t *ResilientTranslator) State() gobreaker.State {
	return t.breaker.State()
}

func (t *ResilientTranslator) cached(ctx context.Context, key string) *domain.RuleDocument {
	if t.cache == nil {
		return nil
	}
	raw, found, err := t.cache.Get(ctx, key)
	if err != nil {
		t.logger.WithError(err).Warn("Rule cache lookup failed")
		return nil
	}
	if !found {
		return nil
	}
	doc, err := domain.ParseRuleDocument(raw)
	if err != nil {
		t.logger.WithError(err).Warn("Discarding unparsable cached rule document")
		return nil
	}
	t.logger.WithField("cache_key", key).Debug("Rule document served from cache")
	return doc
}

// CacheKey hashes the model name and the whitespace-normalized description.
func CacheKey(model, description string) string {
	normalized := strings.Join(strings.Fields(description), " ")
	sum := sha256.Sum256([]byte(model + "\x00" + normalized))
	return "trial-matcher:rules:" + hex.EncodeToString(sum[:])
}
