// Package ruleengine executes compiled promotion workflows. A workflow is a
// flat list of named boolean lambda expressions; the engine evaluates one
// named rule against an event context. Expressions are CEL programs compiled
// on first use and cached in a bounded in-memory store.
package ruleengine

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RuleExpressionTypeLambda is the only expression type the engine executes.
const RuleExpressionTypeLambda = "LambdaExpression"

// Workflow is the compiled, evaluable form of a promotion version's rules.
type Workflow struct {
	WorkflowName string `json:"workflowName"`
	Rules        []Rule `json:"rules"`
}

// Rule is one named boolean expression inside a workflow.
type Rule struct {
	RuleName           string `json:"ruleName"`
	SuccessEvent       string `json:"successEvent"`
	RuleExpressionType string `json:"ruleExpressionType"`
	Expression         string `json:"expression"`
}

// WorkflowName builds the canonical workflow name for a promotion/country pair.
func WorkflowName(promotionID, countryISO string) string {
	return fmt.Sprintf("promo:%s:country:%s", promotionID, countryISO)
}

// RuleName builds the canonical rule name for a tier/group pair.
func RuleName(tierLevel, groupOrder int) string {
	return fmt.Sprintf("tier:%d:group:%d", tierLevel, groupOrder)
}

// SuccessEvent builds the success-event token for a tier/group pair.
func SuccessEvent(tierLevel, groupOrder int) string {
	return fmt.Sprintf("%d:%d", tierLevel, groupOrder)
}

// Rule returns the named rule, or nil when the workflow does not contain it.
// A missing rule is how a group skipped at compile time surfaces at runtime:
// the evaluator treats it as non-matching.
func (w *Workflow) Rule(name string) *Rule {
	for i := range w.Rules {
		if w.Rules[i].RuleName == name {
			return &w.Rules[i]
		}
	}
	return nil
}

// ParseWorkflow decodes a persisted workflow payload.
func ParseWorkflow(payload []byte) (*Workflow, error) {
	var w Workflow
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("failed to parse workflow payload: %w", err)
	}
	if w.WorkflowName == "" {
		return nil, fmt.Errorf("workflow payload has no workflowName")
	}
	return &w, nil
}

// Marshal encodes the workflow for persistence and cache warm-up. HTML
// escaping is off, so comparison operators stay literal in the payload.
func (w *Workflow) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, fmt.Errorf("failed to marshal workflow: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
