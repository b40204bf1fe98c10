package router

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	ometrics "github.com/atelier-ai/atelier/internal/metrics"
	"github.com/atelier-ai/atelier/internal/nodeconfig"
)

// Context is the evaluation context a router condition tests against: a
// mapping of field name (e.g. "user_input", "intent") to its current value.
type Context map[string]string

// ContextFromValues coerces an untyped map (conversation context, request
// metadata) into a string-valued evaluation context. Non-string scalars are
// formatted; nested values are dropped since conditions test flat fields.
func ContextFromValues(values map[string]interface{}) Context {
	ec := make(Context, len(values))
	for k, v := range values {
		switch t := v.(type) {
		case string:
			ec[k] = t
		case bool:
			ec[k] = strconv.FormatBool(t)
		case int:
			ec[k] = strconv.Itoa(t)
		case int64:
			ec[k] = strconv.FormatInt(t, 10)
		case float64:
			ec[k] = strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return ec
}

// Decision is the outcome of evaluating a router config against a context.
type Decision struct {
	// Route is the selected route name, either from the first matching
	// condition or the config's default route.
	Route string
	// ConditionID identifies the matching condition; empty on fallback.
	ConditionID string
	// Matched is false when the default route was taken.
	Matched bool
	// Reason is the human-readable explanation surfaced in the execution
	// log's router field.
	Reason string
}

// Engine evaluates router node conditions. Evaluation is a pure function of
// (config, context); the engine only carries a logger and compile caches,
// both safe under concurrent use, so one engine serves all conversations.
type Engine struct {
	logger *zap.Logger
	custom *customEvaluator

	mu         sync.RWMutex
	regexCache map[string]*regexp.Regexp
	regexBad   map[string]struct{}
}

// NewEngine constructs an evaluation engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:     logger,
		custom:     newCustomEvaluator(logger),
		regexCache: make(map[string]*regexp.Regexp),
		regexBad:   make(map[string]struct{}),
	}
}

// Evaluate walks the conditions in stored order and returns the route of
// the first match, falling back to the default route. A condition whose
// field is absent from the context never matches and never fails the
// evaluation; the same holds for invalid regex patterns and custom rules
// that do not compile.
func (e *Engine) Evaluate(ctx context.Context, cfg *nodeconfig.RouterConfig, ec Context) Decision {
	for _, cond := range cfg.Conditions {
		matched, detail := e.matches(ctx, cond, ec)
		if !matched {
			continue
		}
		ometrics.RouterEvaluations.WithLabelValues("matched").Inc()
		return Decision{
			Route:       cond.ID,
			ConditionID: cond.ID,
			Matched:     true,
			Reason:      fmt.Sprintf("condition '%s' matched: %s", cond.ID, detail),
		}
	}

	ometrics.RouterEvaluations.WithLabelValues("default").Inc()
	return Decision{
		Route:  cfg.DefaultRoute,
		Reason: fmt.Sprintf("no condition matched; using default route '%s'", cfg.DefaultRoute),
	}
}

func (e *Engine) matches(ctx context.Context, cond nodeconfig.Condition, ec Context) (bool, string) {
	if cond.Type == nodeconfig.ConditionCustom {
		if e.custom.Match(ctx, cond, ec) {
			return true, fmt.Sprintf("custom rule on %q", cond.Field)
		}
		return false, ""
	}

	value, ok := ec[cond.Field]
	if !ok {
		return false, ""
	}

	var matched bool
	switch cond.Operator {
	case nodeconfig.OperatorContains:
		matched = strings.Contains(value, cond.Value)
	case nodeconfig.OperatorEquals:
		matched = value == cond.Value
	case nodeconfig.OperatorStartsWith:
		matched = strings.HasPrefix(value, cond.Value)
	case nodeconfig.OperatorEndsWith:
		matched = strings.HasSuffix(value, cond.Value)
	case nodeconfig.OperatorRegex:
		re := e.compileRegex(cond.Value)
		matched = re != nil && re.MatchString(value)
	default:
		// Unknown operators never match so newer editors cannot break
		// routing on older builds.
		return false, ""
	}
	if !matched {
		return false, ""
	}

	detail := fmt.Sprintf("%s %s %q", cond.Field, cond.Operator, cond.Value)
	if cond.Type == nodeconfig.ConditionSemantic {
		detail = "semantic " + detail
	}
	return true, detail
}

// compileRegex returns the compiled pattern or nil when it does not
// compile. Failures are cached so a broken condition logs once, not on
// every message.
func (e *Engine) compileRegex(pattern string) *regexp.Regexp {
	e.mu.RLock()
	re, ok := e.regexCache[pattern]
	_, bad := e.regexBad[pattern]
	e.mu.RUnlock()
	if ok {
		return re
	}
	if bad {
		return nil
	}

	compiled, err := regexp.Compile(pattern)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.regexBad[pattern] = struct{}{}
		ometrics.RouterConditionErrors.WithLabelValues("regex").Inc()
		e.logger.Warn("Invalid regex in router condition; treating as non-matching",
			zap.String("pattern", pattern),
			zap.Error(err),
		)
		return nil
	}
	e.regexCache[pattern] = compiled
	return compiled
}
