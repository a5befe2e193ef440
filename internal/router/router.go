// Package router resolves a client-requested model name, including the
// reserved name "auto", into an ordered list of (provider, upstream model)
// candidates for the dispatcher to try in order.
package router

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/Davincible/plexus/internal/classifier"
	"github.com/Davincible/plexus/internal/gatewayerr"
	"github.com/Davincible/plexus/internal/unified"
)

// Candidate is one (provider, upstream model) pair the dispatcher may try.
type Candidate struct {
	Provider      string
	UpstreamModel string
}

// Selector orders an alias's declared targets.
type Selector string

const (
	SelectorRandom     Selector = "random"
	SelectorPriority   Selector = "priority"
	SelectorRoundRobin Selector = "round-robin"
)

// Target is one statically configured (provider, model) pair under an alias.
type Target struct {
	Provider string
	Model    string
}

// Alias is a logical model name resolved to one or more targets.
type Alias struct {
	Name     string
	Selector Selector
	Targets  []Target
}

// AutoConfig is the "auto" routing configuration from spec.md §3/§6.
type AutoConfig struct {
	Enabled              bool
	TierModels           map[classifier.Tier]string // tier -> alias name
	AgenticBoostThreshold float64
	ClassifierConfig     classifier.Config
}

// ClassifierLogger records a classifier decision made while resolving
// "auto". Failure to log is non-fatal per spec.md §4.3.
type ClassifierLogger interface {
	LogClassifierDecision(ctx context.Context, requestID string, result classifier.Result, resolvedAlias string)
}

// Snapshot is the shared-immutable configuration a Router resolves against.
// A config reload publishes a new Snapshot atomically; in-flight requests
// keep resolving against the snapshot they started with.
type Snapshot struct {
	Aliases map[string]Alias
	Auto    AutoConfig
}

// Router resolves model names into ordered candidate lists. It holds
// process-wide round-robin counters, which must survive config reloads, so
// it is constructed once and handed new Snapshots rather than rebuilt.
type Router struct {
	mu       sync.RWMutex
	snapshot *Snapshot

	counters sync.Map // alias name -> *uint64

	logger ClassifierLogger
}

func New(snapshot *Snapshot, logger ClassifierLogger) *Router {
	return &Router{snapshot: snapshot, logger: logger}
}

// Publish atomically swaps in a new configuration snapshot. Existing
// round-robin counters are preserved across reload.
func (r *Router) Publish(snapshot *Snapshot) {
	r.mu.Lock()
	r.snapshot = snapshot
	r.mu.Unlock()
}

func (r *Router) current() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Resolve implements spec.md §4.3. req.RequestID is used for
// classifier-log attribution when auto-routing.
func (r *Router) Resolve(ctx context.Context, req *unified.UnifiedRequest, modelName string) ([]Candidate, error) {
	snap := r.current()

	if modelName == "auto" {
		return r.resolveAuto(ctx, req, snap)
	}

	alias, ok := snap.Aliases[modelName]
	if !ok {
		return nil, gatewayerr.New(gatewayerr.ClassUnknownModel, "unknown model alias: "+modelName)
	}

	return r.order(alias), nil
}

func (r *Router) resolveAuto(ctx context.Context, req *unified.UnifiedRequest, snap *Snapshot) ([]Candidate, error) {
	if !snap.Auto.Enabled {
		return nil, gatewayerr.New(gatewayerr.ClassConfigError, "auto routing requested but not configured")
	}

	result := classifier.Classify(req, snap.Auto.ClassifierConfig)
	result = classifier.Boost(result, snap.Auto.AgenticBoostThreshold)

	aliasName, ok := snap.Auto.TierModels[result.Tier]
	if !ok {
		return nil, gatewayerr.New(gatewayerr.ClassConfigError, "no alias configured for tier "+result.Tier.String())
	}

	if r.logger != nil {
		r.logger.LogClassifierDecision(ctx, req.RequestID, result, aliasName)
	}

	alias, ok := snap.Aliases[aliasName]
	if !ok {
		return nil, gatewayerr.New(gatewayerr.ClassConfigError, "tier alias not found: "+aliasName)
	}

	return r.order(alias), nil
}

func (r *Router) order(alias Alias) []Candidate {
	targets := make([]Target, len(alias.Targets))
	copy(targets, alias.Targets)

	switch alias.Selector {
	case SelectorRandom:
		rand.Shuffle(len(targets), func(i, j int) { targets[i], targets[j] = targets[j], targets[i] })

	case SelectorRoundRobin:
		n := len(targets)
		if n == 0 {
			break
		}
		counterAny, _ := r.counters.LoadOrStore(alias.Name, new(uint64))
		counter := counterAny.(*uint64)
		start := int(atomic.AddUint64(counter, 1)-1) % n
		rotated := make([]Target, n)
		for i := range targets {
			rotated[i] = targets[(start+i)%n]
		}
		targets = rotated

	case SelectorPriority, "":
		// declared order, no-op
	}

	out := make([]Candidate, len(targets))
	for i, t := range targets {
		out[i] = Candidate{Provider: t.Provider, UpstreamModel: t.Model}
	}
	return out
}
