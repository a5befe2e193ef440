// Package classifier implements the deterministic, synchronous auto-routing
// classifier described in spec.md §4.2: a pure function from a unified
// request to a complexity tier, used by the router when the client asks
// for the reserved model name "auto".
package classifier

import (
	"math"
	"regexp"
	"strings"

	"github.com/Davincible/plexus/internal/unified"
)

// Tier is the ordinal complexity class, HEARTBEAT < SIMPLE < MEDIUM <
// COMPLEX < REASONING.
type Tier int

const (
	TierHeartbeat Tier = iota
	TierSimple
	TierMedium
	TierComplex
	TierReasoning
)

func (t Tier) String() string {
	switch t {
	case TierHeartbeat:
		return "heartbeat"
	case TierSimple:
		return "simple"
	case TierMedium:
		return "medium"
	case TierComplex:
		return "complex"
	case TierReasoning:
		return "reasoning"
	default:
		return "unknown"
	}
}

// Method records which phase produced the final tier.
type Method string

const (
	MethodShortCircuit Method = "short-circuit"
	MethodRules        Method = "rules"
)

// Result is the full classifier output, persisted verbatim to the
// classifier log by the router when it routes "auto".
type Result struct {
	Tier               Tier
	Score              float64
	Confidence         float64
	Method             Method
	Reasoning          string
	Signals            []string
	AgenticScore       float64
	HasStructuredOutput bool
}

// Boundaries maps the weighted score onto a tier.
type Boundaries struct {
	SimpleMedium    float64
	MediumComplex   float64
	ComplexReasoning float64
}

// DimensionWeights holds the per-dimension weight applied to each scorer's
// raw contribution before summation. All sixteen are required together if
// any override is configured (spec.md §6).
type DimensionWeights struct {
	TokenCount          float64
	CodePresence        float64
	ReasoningMarkers    float64
	MultiStepPatterns   float64
	SimpleIndicators    float64
	TechnicalTerms      float64
	AgenticTask         float64
	ToolPresence        float64
	QuestionComplexity  float64
	CreativeMarkers     float64
	ConstraintCount     float64
	OutputFormat        float64
	ConversationDepth   float64
	ImperativeVerbs     float64
	ReferenceComplexity float64
	NegationComplexity  float64
}

// Config is the full tuning surface for the classifier, externalised per
// §6 auto.classifier and §9 "treat as configuration".
type Config struct {
	HeartbeatCharFloor       int
	MaxTokensForceComplex    int
	ReasoningOverrideMinMatches int
	ReasoningOverrideMinScore  float64
	ArchitectureScoreThreshold float64
	Boundaries               Boundaries
	DimensionWeights         DimensionWeights
	Steepness                float64
	AmbiguityThreshold       float64
	AmbiguousDefaultTier     Tier
}

// DefaultConfig returns the reference tuning table documented alongside the
// classifier: conservative defaults tuned against the boundary examples in
// spec.md §8.
func DefaultConfig() Config {
	return Config{
		HeartbeatCharFloor:          6,
		MaxTokensForceComplex:       8000,
		ReasoningOverrideMinMatches: 2,
		ReasoningOverrideMinScore:   1.5,
		ArchitectureScoreThreshold:  1.2,
		Boundaries: Boundaries{
			SimpleMedium:     1.0,
			MediumComplex:    2.2,
			ComplexReasoning: 3.4,
		},
		DimensionWeights: DimensionWeights{
			TokenCount:          1.0,
			CodePresence:        1.2,
			ReasoningMarkers:    1.3,
			MultiStepPatterns:   1.1,
			SimpleIndicators:    1.0,
			TechnicalTerms:      0.9,
			AgenticTask:         1.1,
			ToolPresence:        1.0,
			QuestionComplexity:  0.8,
			CreativeMarkers:     0.7,
			ConstraintCount:     0.8,
			OutputFormat:        0.6,
			ConversationDepth:   0.7,
			ImperativeVerbs:     0.6,
			ReferenceComplexity: 0.7,
			NegationComplexity:  0.6,
		},
		Steepness:          2.2,
		AmbiguityThreshold: 0.55,
		AmbiguousDefaultTier: TierMedium,
	}
}

var (
	heartbeatPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|ping|hey|test|ok)\s*[.!?]*\s*$`)
	forceTierPattern = regexp.MustCompile(`(?i)\bUSE\s+(HEARTBEAT|SIMPLE|MEDIUM|COMPLEX|REASONING)\b`)

	codePattern          = regexp.MustCompile("(?s)```|\\bfunc \\(|\\bclass \\w+|\\bdef \\w+\\(|;\\n|=>\\s*\\{")
	reasoningPattern     = regexp.MustCompile(`(?i)\b(why|explain|reason|think through|prove|derive|trade-?off)\b`)
	multiStepPattern     = regexp.MustCompile(`(?i)\b(first|then|next|finally|step \d|afterwards)\b`)
	simpleIndicatorPat   = regexp.MustCompile(`(?i)\b(what is|who is|when is|define|capital of)\b`)
	technicalTermPattern = regexp.MustCompile(`(?i)\b(algorithm|architecture|microservice|database|api|kubernetes|concurrency|protocol|schema)\b`)
	agenticPattern       = regexp.MustCompile(`(?i)\b(agent|autonomous|multi-step|orchestrate|pipeline|workflow)\b`)
	creativePattern      = regexp.MustCompile(`(?i)\b(write a (poem|story|song)|imagine|brainstorm|creative)\b`)
	constraintPattern    = regexp.MustCompile(`(?i)\b(must|should|require[sd]?|at least|no more than|exactly)\b`)
	imperativePattern    = regexp.MustCompile(`(?i)^\s*(write|build|create|generate|implement|design|refactor|fix|analyze|compare)\b`)
	referencePattern     = regexp.MustCompile(`(?i)\b(the (above|previous|earlier)|as (mentioned|discussed)|that (file|function|code))\b`)
	negationPattern      = regexp.MustCompile(`(?i)\b(not|never|without|except|excluding)\b`)
	architectureNoun     = regexp.MustCompile(`(?i)\b(microservice|monolith|architecture|system design)\b`)
	architectureVerb     = regexp.MustCompile(`(?i)\b(design|compare|migrate|refactor)\b`)
)

// lastUserText returns the text content of the last user message.
func lastUserText(req *unified.UnifiedRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		m := req.Messages[i]
		if m.Role != unified.RoleUser {
			continue
		}
		if m.Text != "" {
			return m.Text
		}
		var sb strings.Builder
		for _, p := range m.Parts {
			if p.Kind == unified.PartText {
				sb.WriteString(p.Text)
			}
		}
		return sb.String()
	}
	return ""
}

// estimateTokens applies the 4-characters-per-token heuristic over the
// concatenated textual content of the conversation.
func estimateTokens(req *unified.UnifiedRequest) int {
	var chars int
	for _, m := range req.Messages {
		chars += len(m.Text)
		for _, p := range m.Parts {
			if p.Kind == unified.PartText || p.Kind == unified.PartReasoning {
				chars += len(p.Text)
			}
		}
	}
	return chars / 4
}

// Classify is the pure, synchronous entry point.
func Classify(req *unified.UnifiedRequest, cfg Config) Result {
	lastUser := lastUserText(req)
	tokens := estimateTokens(req)

	if r, ok := shortCircuit(req, cfg, lastUser, tokens); ok {
		return r
	}

	return ruleBased(req, cfg, lastUser, tokens)
}

func shortCircuit(req *unified.UnifiedRequest, cfg Config, lastUser string, tokens int) (Result, bool) {
	trimmed := strings.TrimSpace(lastUser)

	if len(trimmed) > 0 && len(trimmed) < cfg.HeartbeatCharFloor &&
		len(req.Tools) == 0 && len(req.Messages) <= 2 {
		return Result{Tier: TierHeartbeat, Method: MethodShortCircuit, Reasoning: "message under character floor", Signals: []string{"heartbeat:floor"}}, true
	}

	if heartbeatPattern.MatchString(trimmed) && len(req.Tools) == 0 && len(req.Messages) <= 2 {
		return Result{Tier: TierHeartbeat, Method: MethodShortCircuit, Reasoning: "matched heartbeat pattern", Signals: []string{"heartbeat:pattern"}}, true
	}

	if m := forceTierPattern.FindStringSubmatch(lastUser); m != nil {
		tier := map[string]Tier{
			"HEARTBEAT": TierHeartbeat, "SIMPLE": TierSimple, "MEDIUM": TierMedium,
			"COMPLEX": TierComplex, "REASONING": TierReasoning,
		}[strings.ToUpper(m[1])]
		return Result{Tier: tier, Method: MethodShortCircuit, Reasoning: "forced tier directive", Signals: []string{"forced:" + strings.ToLower(m[1])}}, true
	}

	if tokens > cfg.MaxTokensForceComplex {
		return Result{Tier: TierComplex, Method: MethodShortCircuit, Reasoning: "estimated input tokens exceed overflow threshold", Signals: []string{"overflow:tokens"}}, true
	}

	return Result{}, false
}

type dimension struct {
	name  string
	score float64
	signal string
}

func ruleBased(req *unified.UnifiedRequest, cfg Config, lastUser string, tokens int) Result {
	w := cfg.DimensionWeights

	var agenticScore float64
	hasStructured := false

	dims := []dimension{}

	// tokenCount
	switch {
	case tokens > 2000:
		dims = append(dims, dimension{"tokenCount", 1.0, "tokens:high"})
	case tokens > 600:
		dims = append(dims, dimension{"tokenCount", 0.5, "tokens:medium"})
	case tokens < 20:
		dims = append(dims, dimension{"tokenCount", -0.3, ""})
	default:
		dims = append(dims, dimension{"tokenCount", 0, ""})
	}

	dims = append(dims, boolDim("codePresence", codePattern.MatchString(lastUser), 0.8, "code:present"))
	reasoningMatches := len(reasoningPattern.FindAllString(lastUser, -1))
	dims = append(dims, dimension{"reasoningMarkers", clamp(float64(reasoningMatches) * 0.5), boolSignal(reasoningMatches > 0, "reasoning:markers")})
	dims = append(dims, boolDim("multiStepPatterns", multiStepPattern.MatchString(lastUser), 0.7, "multistep:present"))
	dims = append(dims, boolDim("simpleIndicators", simpleIndicatorPat.MatchString(lastUser), -0.6, "simple:indicator"))
	dims = append(dims, boolDim("technicalTerms", technicalTermPattern.MatchString(lastUser), 0.6, "technical:terms"))

	agentic := agenticPattern.MatchString(lastUser)
	if agentic {
		agenticScore += 0.5
	}
	dims = append(dims, boolDim("agenticTask", agentic, 0.7, "agentic:task"))

	toolScore := 0.0
	if len(req.Tools) > 0 {
		toolScore = 0.5
		agenticScore += 0.3
	}
	if req.ToolChoice != nil && req.ToolChoice.Mode == unified.ToolChoiceRequired {
		toolScore += 0.3
		agenticScore += 0.2
	}
	dims = append(dims, dimension{"toolPresence", toolScore, boolSignal(toolScore > 0, "tools:present")})

	questionMarks := strings.Count(lastUser, "?")
	dims = append(dims, dimension{"questionComplexity", clamp(float64(questionMarks-1) * 0.3), ""})

	dims = append(dims, boolDim("creativeMarkers", creativePattern.MatchString(lastUser), 0.4, "creative:markers"))

	constraints := len(constraintPattern.FindAllString(lastUser, -1))
	dims = append(dims, dimension{"constraintCount", clamp(float64(constraints) * 0.3), boolSignal(constraints > 1, "constraints:many")})

	if req.ResponseFormat != nil && req.ResponseFormat.Kind != unified.ResponseFormatText {
		hasStructured = true
		dims = append(dims, dimension{"outputFormat", 0.4, "format:structured"})
	} else {
		dims = append(dims, dimension{"outputFormat", 0, ""})
	}

	depth := len(req.Messages)
	dims = append(dims, dimension{"conversationDepth", clamp(float64(depth-4) * 0.15), ""})

	dims = append(dims, boolDim("imperativeVerbs", imperativePattern.MatchString(lastUser), 0.3, "imperative:verb"))
	dims = append(dims, boolDim("referenceComplexity", referencePattern.MatchString(lastUser), 0.4, "reference:complex"))

	negations := len(negationPattern.FindAllString(lastUser, -1))
	dims = append(dims, dimension{"negationComplexity", clamp(float64(negations-1) * 0.2), ""})

	weighted := 0.0
	var signals []string

	weightOf := func(name string) float64 {
		switch name {
		case "tokenCount":
			return w.TokenCount
		case "codePresence":
			return w.CodePresence
		case "reasoningMarkers":
			return w.ReasoningMarkers
		case "multiStepPatterns":
			return w.MultiStepPatterns
		case "simpleIndicators":
			return w.SimpleIndicators
		case "technicalTerms":
			return w.TechnicalTerms
		case "agenticTask":
			return w.AgenticTask
		case "toolPresence":
			return w.ToolPresence
		case "questionComplexity":
			return w.QuestionComplexity
		case "creativeMarkers":
			return w.CreativeMarkers
		case "constraintCount":
			return w.ConstraintCount
		case "outputFormat":
			return w.OutputFormat
		case "conversationDepth":
			return w.ConversationDepth
		case "imperativeVerbs":
			return w.ImperativeVerbs
		case "referenceComplexity":
			return w.ReferenceComplexity
		case "negationComplexity":
			return w.NegationComplexity
		default:
			return 1.0
		}
	}

	for _, d := range dims {
		weighted += d.score * weightOf(d.name)
		if d.signal != "" {
			signals = append(signals, d.signal)
		}
	}

	boundary := boundaryTier(weighted, cfg.Boundaries)
	tier := boundary

	// Phase 3 overrides
	if reasoningMatches >= cfg.ReasoningOverrideMinMatches && tier >= TierMedium && weighted >= cfg.ReasoningOverrideMinScore {
		tier = TierReasoning
		signals = append(signals, "override:reasoning")
	} else if architectureNoun.MatchString(lastUser) && architectureVerb.MatchString(lastUser) &&
		tier >= TierMedium && weighted >= cfg.ArchitectureScoreThreshold {
		tier = TierComplex
		signals = append(signals, "override:architecture")
	}

	distance := distanceFromBoundary(weighted, boundary, cfg.Boundaries)
	confidence := sigmoid(cfg.Steepness * distance)

	if confidence < cfg.AmbiguityThreshold {
		tier = cfg.AmbiguousDefaultTier
		signals = append(signals, "ambiguous:defaulted")
	}

	// Boost
	if agenticScore > 0 {
		// boost applied by caller after threshold comparison; store raw score here
	}

	return Result{
		Tier:               tier,
		Score:              weighted,
		Confidence:         confidence,
		Method:             MethodRules,
		Reasoning:          "weighted dimension scoring",
		Signals:            signals,
		AgenticScore:       agenticScore,
		HasStructuredOutput: hasStructured,
	}
}

func boundaryTier(weighted float64, b Boundaries) Tier {
	switch {
	case weighted < b.SimpleMedium:
		return TierSimple
	case weighted < b.MediumComplex:
		return TierMedium
	case weighted < b.ComplexReasoning:
		return TierComplex
	default:
		return TierReasoning
	}
}

func distanceFromBoundary(weighted float64, tier Tier, b Boundaries) float64 {
	switch tier {
	case TierSimple:
		return b.SimpleMedium - weighted
	case TierMedium:
		return math.Min(weighted-b.SimpleMedium, b.MediumComplex-weighted)
	case TierComplex:
		return math.Min(weighted-b.MediumComplex, b.ComplexReasoning-weighted)
	default:
		return weighted - b.ComplexReasoning
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func boolDim(name string, matched bool, score float64, signal string) dimension {
	if !matched {
		return dimension{name: name}
	}
	return dimension{name: name, score: score, signal: signal}
}

func boolSignal(matched bool, signal string) string {
	if matched {
		return signal
	}
	return ""
}

// Boost promotes the tier by one level when agenticScore exceeds the
// configured threshold, capped at REASONING. Applied by the router after
// Classify, per spec.md §4.2 "Boost (applied after classification)".
func Boost(r Result, threshold float64) Result {
	if r.AgenticScore <= threshold {
		return r
	}
	if r.Tier == TierHeartbeat {
		return r
	}
	if r.Tier < TierReasoning {
		r.Tier++
		r.Signals = append(r.Signals, "boost:agentic")
	}
	return r
}
