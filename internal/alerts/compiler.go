package alerts

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/willibrandon/devicealarm/internal/logger"
	"github.com/willibrandon/devicealarm/internal/models"
)

// RuleSource lists the rules to compile.
type RuleSource interface {
	ListRules(ctx context.Context) ([]models.Rule, error)
}

// ResolveExpression returns the condition text for a rule. An explicit
// expression wins; otherwise inclusive bounds on LegacyPlaceholder are
// synthesized; a rule with neither always triggers.
func ResolveExpression(rule *models.Rule) string {
	if expr := strings.TrimSpace(rule.Expression); expr != "" {
		return expr
	}

	switch {
	case rule.Min != nil && rule.Max != nil:
		return fmt.Sprintf("%s >= %s && %s <= %s",
			LegacyPlaceholder, formatBound(*rule.Min), LegacyPlaceholder, formatBound(*rule.Max))
	case rule.Min != nil:
		return fmt.Sprintf("%s >= %s", LegacyPlaceholder, formatBound(*rule.Min))
	case rule.Max != nil:
		return fmt.Sprintf("%s <= %s", LegacyPlaceholder, formatBound(*rule.Max))
	default:
		return "true"
	}
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// CompiledRule is the evaluable form of one rule.
type CompiledRule struct {
	RuleID     uuid.UUID
	Expression string

	// Predicate is never nil. A rule that failed to compile carries a
	// predicate that never triggers.
	Predicate Predicate

	// Names are the parameter names the expression requires.
	Names []string

	// Err is set when the expression could not be parsed.
	Err *CompilationError
}

// Unconditional reports whether the rule triggers regardless of input.
func (c *CompiledRule) Unconditional() bool {
	lit, ok := c.Predicate.(*Literal)
	return ok && lit.Result
}

// Compile parses a rule's resolved expression. It never fails: a parse
// error yields a fail-closed predicate and a CompilationError on the result.
func Compile(rule *models.Rule) *CompiledRule {
	expr := ResolveExpression(rule)
	compiled := &CompiledRule{
		RuleID:     rule.ID,
		Expression: expr,
		Names:      ExtractParameterNames(expr),
	}

	pred, err := ParseExpression(expr)
	if err != nil {
		compiled.Predicate = &failClosed{expr: expr}
		compiled.Err = &CompilationError{RuleID: rule.ID, Expression: expr, Err: err}
		return compiled
	}

	compiled.Predicate = pred
	return compiled
}

// Snapshot is an immutable set of compiled rules. A snapshot is never
// modified after it is published.
type Snapshot struct {
	rules   map[uuid.UUID]*CompiledRule
	version uint64
	builtAt time.Time
	failed  int
}

// Lookup returns the compiled rule for id.
func (s *Snapshot) Lookup(id uuid.UUID) (*CompiledRule, bool) {
	c, ok := s.rules[id]
	return c, ok
}

// Len returns the number of compiled rules.
func (s *Snapshot) Len() int { return len(s.rules) }

// Failed returns the number of rules that failed to compile.
func (s *Snapshot) Failed() int { return s.failed }

// Version increases by one on every refresh.
func (s *Snapshot) Version() uint64 { return s.version }

// BuiltAt is when the snapshot was compiled.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Engine owns the compiled rule snapshot and evaluates rules against
// parameters. Evaluation never blocks on a refresh in progress.
type Engine struct {
	source RuleSource

	// current is replaced wholesale by Refresh.
	current atomic.Pointer[Snapshot]

	// refreshMu serializes refreshes so versions are strictly ordered.
	refreshMu sync.Mutex
	version   uint64
}

// NewEngine creates an engine that compiles rules listed by source.
// No rules are compiled until Refresh or the first evaluation.
func NewEngine(source RuleSource) *Engine {
	return &Engine{source: source}
}

// Refresh lists and compiles all rules and publishes them as one snapshot.
// On error the previous snapshot stays in place.
func (e *Engine) Refresh(ctx context.Context) (*Snapshot, error) {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	rules, err := e.source.ListRules(ctx)
	if err != nil {
		return nil, &TransportError{Op: "list rules", Err: err}
	}

	snap := &Snapshot{
		rules:   make(map[uuid.UUID]*CompiledRule, len(rules)),
		version: e.version + 1,
		builtAt: time.Now(),
	}

	for i := range rules {
		rule := &rules[i]
		compiled := Compile(rule)
		if compiled.Err != nil {
			snap.failed++
			logger.Warn("invalid rule expression, rule will never trigger",
				"rule_id", rule.ID,
				"rule", rule.DisplayName(),
				"expression", compiled.Expression,
				"error", compiled.Err.Err.Error())
		} else if compiled.Unconditional() {
			logger.Warn("rule has no expression or bounds, it always triggers",
				"rule_id", rule.ID,
				"rule", rule.DisplayName())
		}
		snap.rules[rule.ID] = compiled
	}

	e.version = snap.version
	e.current.Store(snap)

	logger.Info("rule engine compiled rules",
		"total", len(rules),
		"failed", snap.failed,
		"version", snap.version)

	return snap, nil
}

// Snapshot returns the current snapshot, or nil before the first refresh.
func (e *Engine) Snapshot() *Snapshot {
	return e.current.Load()
}

// Compiled returns the compiled form of rule. The first call loads the
// snapshot. A rule absent from the snapshot, or whose condition changed
// since the snapshot was built, is compiled on the spot without touching
// the snapshot.
func (e *Engine) Compiled(ctx context.Context, rule *models.Rule) (*CompiledRule, error) {
	snap := e.current.Load()
	if snap == nil {
		var err error
		if snap, err = e.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	if c, ok := snap.Lookup(rule.ID); ok && c.Expression == ResolveExpression(rule) {
		return c, nil
	}

	logger.Debug("compiling rule outside snapshot",
		"rule_id", rule.ID,
		"snapshot_version", snap.Version())
	return Compile(rule), nil
}

// Verdict is the outcome of evaluating one rule against one parameter.
type Verdict struct {
	Triggered  bool
	Expression string
	Bindings   Bindings
}

// Evaluate compiles, binds and evaluates rule against parameter's current
// value. A CompilationError or MissingBindingError is returned with a
// non-triggered verdict.
func (e *Engine) Evaluate(ctx context.Context, rule *models.Rule, parameter *models.Parameter) (Verdict, error) {
	compiled, err := e.Compiled(ctx, rule)
	if err != nil {
		return Verdict{}, err
	}

	verdict := Verdict{Expression: compiled.Expression}
	if compiled.Err != nil {
		return verdict, compiled.Err
	}

	bindings, missing := Bind(compiled.Names, parameter.Name, parameter.CurrentValue)
	verdict.Bindings = bindings
	if len(missing) > 0 {
		return verdict, &MissingBindingError{
			RuleID:      rule.ID,
			ParameterID: parameter.ID,
			Missing:     missing,
		}
	}

	if !contains(compiled.Names, parameter.Name) && !contains(compiled.Names, LegacyPlaceholder) {
		logger.Debug("parameter value bound to placeholder by default",
			"rule_id", rule.ID,
			"parameter_id", parameter.ID,
			"parameter", parameter.Name)
	}

	triggered, err := Evaluate(compiled.Predicate, bindings)
	if err != nil {
		return verdict, fmt.Errorf("evaluate rule %s: %w", rule.ID, err)
	}

	verdict.Triggered = triggered
	return verdict, nil
}

// Close drops the compiled snapshot. The next evaluation reloads it.
func (e *Engine) Close() {
	e.current.Store(nil)
}
