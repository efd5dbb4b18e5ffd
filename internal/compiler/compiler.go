// Package compiler translates the authoring rule DSL into an executable
// workflow. The input is a nested logical tree of clauses and boolean groups;
// the output is a flat list of named CEL lambda expressions, one per
// (tier, group), plus the warnings collected along the way.
//
// Failure policy: a group that cannot be compiled is skipped with a warning
// and the rest of the workflow proceeds. Only a workflow with zero surviving
// rules is a hard error.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/rafaeljc/freyr/internal/domain"
	"github.com/rafaeljc/freyr/internal/ruleengine"
)

// ErrNoRules is returned when every group was skipped and the workflow would
// be empty. Surfaced as HTTP 400 at the authoring boundary.
var ErrNoRules = errors.New("workflow compiled with zero rules")

// Catalogs resolves attribute and operator definitions during compilation.
// The store implements it; tests substitute in-memory fakes.
type Catalogs interface {
	Attribute(ctx context.Context, id uuid.UUID) (*domain.AttributeCatalog, error)
	Operator(ctx context.Context, id uuid.UUID) (*domain.OperatorCatalog, error)
}

// Input is a draft's rule structure, already validated at the API boundary.
type Input struct {
	PromotionID string
	CountryISO  string
	Tiers       []TierInput
}

// TierInput is one tier of the draft request.
type TierInput struct {
	TierLevel    int
	Order        int
	CooldownDays *int
	Groups       []GroupInput
}

// GroupInput is one expression group of a tier.
type GroupInput struct {
	Order      int
	Expression *Node
}

// Warning records a non-fatal compile problem tied to a tier/group.
type Warning struct {
	TierLevel  int    `json:"tierLevel"`
	GroupOrder int    `json:"groupOrder"`
	Message    string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("tier %d group %d: %s", w.TierLevel, w.GroupOrder, w.Message)
}

// Compiler lowers draft rule trees into workflows.
type Compiler struct {
	catalogs Catalogs
}

// New creates a Compiler. Panics on a nil catalog source.
func New(catalogs Catalogs) *Compiler {
	if catalogs == nil {
		panic("compiler: catalogs cannot be nil")
	}
	return &Compiler{catalogs: catalogs}
}

// Compile lowers the input into a workflow. Tiers are visited in
// (tierLevel, order), groups by order, children by order. Skipped groups
// surface in the warnings slice; ErrNoRules is returned when nothing
// compiled.
func (c *Compiler) Compile(ctx context.Context, in Input) (*ruleengine.Workflow, []Warning, error) {
	tiers := make([]TierInput, len(in.Tiers))
	copy(tiers, in.Tiers)
	sort.SliceStable(tiers, func(i, j int) bool {
		if tiers[i].TierLevel != tiers[j].TierLevel {
			return tiers[i].TierLevel < tiers[j].TierLevel
		}
		return tiers[i].Order < tiers[j].Order
	})

	wf := &ruleengine.Workflow{
		WorkflowName: ruleengine.WorkflowName(in.PromotionID, in.CountryISO),
	}
	var warnings []Warning

	lookups := newCatalogResolver(c.catalogs)

	for _, tier := range tiers {
		groups := make([]GroupInput, len(tier.Groups))
		copy(groups, tier.Groups)
		sort.SliceStable(groups, func(i, j int) bool { return groups[i].Order < groups[j].Order })

		for _, group := range groups {
			out := c.compileGroup(ctx, lookups, group.Expression)
			if out.kind == outcomeSkipped {
				warnings = append(warnings, Warning{
					TierLevel:  tier.TierLevel,
					GroupOrder: group.Order,
					Message:    out.reason,
				})
				continue
			}
			warnings = appendClauseWarnings(warnings, tier.TierLevel, group.Order, out.warnings)

			wf.Rules = append(wf.Rules, ruleengine.Rule{
				RuleName:           ruleengine.RuleName(tier.TierLevel, group.Order),
				SuccessEvent:       ruleengine.SuccessEvent(tier.TierLevel, group.Order),
				RuleExpressionType: ruleengine.RuleExpressionTypeLambda,
				Expression:         out.expression,
			})
		}
	}

	if len(wf.Rules) == 0 {
		return nil, warnings, ErrNoRules
	}

	return wf, warnings, nil
}

// compileGroup lowers a group's root expression node.
func (c *Compiler) compileGroup(ctx context.Context, lookups *catalogResolver, root *Node) outcome {
	if root == nil {
		return skipped("empty root expression")
	}
	return c.compileNode(ctx, lookups, root)
}

// compileNode dispatches on the node kind.
func (c *Compiler) compileNode(ctx context.Context, lookups *catalogResolver, n *Node) outcome {
	if n.IsGroup() {
		return c.compileBoolGroup(ctx, lookups, n)
	}
	return c.compileClause(ctx, lookups, n)
}

// compileBoolGroup renders "(child1 OP child2 OP ...)". An empty group is the
// literal true. A child that cannot compile skips the whole group so that a
// partial conjunction never reaches the runtime.
func (c *Compiler) compileBoolGroup(ctx context.Context, lookups *catalogResolver, n *Node) outcome {
	op, err := n.booleanOperator()
	if err != nil {
		return skipped(err.Error())
	}

	if len(n.Children) == 0 {
		return success("true")
	}

	children := make([]Node, len(n.Children))
	copy(children, n.Children)
	sort.SliceStable(children, func(i, j int) bool { return children[i].Order < children[j].Order })

	parts := make([]string, 0, len(children))
	var clauseWarnings []string

	for i := range children {
		out := c.compileNode(ctx, lookups, &children[i])
		if out.kind == outcomeSkipped {
			return out
		}
		parts = append(parts, out.expression)
		clauseWarnings = append(clauseWarnings, out.warnings...)
	}

	expr := "(" + parts[0]
	for _, p := range parts[1:] {
		expr += " " + op + " " + p
	}
	expr += ")"

	return outcome{kind: outcomeOK, expression: expr, warnings: clauseWarnings}
}

func appendClauseWarnings(warnings []Warning, tierLevel, groupOrder int, messages []string) []Warning {
	for _, msg := range messages {
		warnings = append(warnings, Warning{TierLevel: tierLevel, GroupOrder: groupOrder, Message: msg})
	}
	return warnings
}
