package ruleengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/cel-go/cel"
)

// Config tunes the engine's execution limits and program cache.
type Config struct {
	// RuleTimeout bounds a single rule evaluation. On timeout the rule
	// result is false and the evaluator proceeds to the next group.
	RuleTimeout time.Duration

	// ProgramCacheCapacity caps the number of compiled programs held in
	// memory. Eviction is best-effort, oldest entries first.
	ProgramCacheCapacity int

	// ProgramCacheTTL expires cached programs as a safety net.
	ProgramCacheTTL time.Duration
}

// Engine evaluates named workflow rules against an event context.
// The expression language is CEL; every expression is a boolean lambda over a
// single map variable named "ctx".
type Engine struct {
	env      *cel.Env
	programs *programCache
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates an Engine. If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger, cfg Config) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RuleTimeout <= 0 {
		cfg.RuleTimeout = 50 * time.Millisecond
	}
	if cfg.ProgramCacheCapacity <= 0 {
		cfg.ProgramCacheCapacity = 1024
	}
	if cfg.ProgramCacheTTL <= 0 {
		cfg.ProgramCacheTTL = time.Hour
	}

	// A single declared variable keeps the environment reusable across every
	// workflow: all compiled expressions address event fields as ctx.<name>.
	env, err := cel.NewEnv(
		cel.Variable("ctx", cel.MapType(cel.StringType, cel.DynType)),
		// Authoring emits whole-number literals without a decimal point while
		// JSON event fields decode as doubles; comparisons must span both.
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cel environment: %w", err)
	}

	programs, err := newProgramCache(cfg.ProgramCacheCapacity, cfg.ProgramCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create program cache: %w", err)
	}

	return &Engine{
		env:      env,
		programs: programs,
		timeout:  cfg.RuleTimeout,
		logger:   logger,
	}, nil
}

// Evaluate runs the named rule of the workflow against the event context.
//
// Semantics the runtime evaluator relies on:
//   - a rule missing from the workflow is non-matching: (false, nil)
//   - a compile or runtime error yields (false, err); callers log and move on
//   - evaluation is bounded by the configured rule timeout
func (e *Engine) Evaluate(ctx context.Context, workflow *Workflow, ruleName string, evalCtx map[string]any) (bool, error) {
	if workflow == nil {
		return false, fmt.Errorf("workflow cannot be nil")
	}

	rule := workflow.Rule(ruleName)
	if rule == nil {
		// Groups skipped at compile time have no rule in the workflow.
		return false, nil
	}
	if rule.RuleExpressionType != RuleExpressionTypeLambda {
		return false, fmt.Errorf("unsupported rule expression type %q", rule.RuleExpressionType)
	}

	prg, err := e.program(rule.Expression)
	if err != nil {
		return false, fmt.Errorf("failed to compile rule %s: %w", ruleName, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, _, err := prg.ContextEval(runCtx, map[string]any{"ctx": evalCtx})
	if err != nil {
		// Missing context fields, type mismatches and timeouts all land here.
		return false, fmt.Errorf("rule %s evaluation failed: %w", ruleName, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %s did not produce a boolean, got %T", ruleName, out.Value())
	}

	return result, nil
}

// program returns the compiled CEL program for an expression, compiling and
// caching it on first use. The cache key is a content hash so identical
// expressions across workflow versions share one program.
func (e *Engine) program(expression string) (cel.Program, error) {
	key := hashExpression(expression)

	if prg, found := e.programs.Get(key); found {
		return prg, nil
	}

	ast, iss := e.env.Compile(expression)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}

	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, err
	}

	e.programs.Set(key, prg)
	return prg, nil
}
