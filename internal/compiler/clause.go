package compiler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rafaeljc/freyr/internal/domain"
)

// binaryOperators maps catalog operator codes to the target comparison syntax.
var binaryOperators = map[string]string{
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
	"eq":  "==",
	"neq": "!=",
}

// compileClause lowers a single clause node, selecting the expression form by
// the attribute's data type.
func (c *Compiler) compileClause(ctx context.Context, lookups *catalogResolver, n *Node) outcome {
	if n.AttributeID == "" || n.OperatorID == "" {
		return skipped("clause is missing attributeId or operatorId")
	}

	attr, err := lookups.attribute(ctx, n.AttributeID)
	if err != nil {
		return skipped(fmt.Sprintf("attribute %s: %v", n.AttributeID, err))
	}
	op, err := lookups.operator(ctx, n.OperatorID)
	if err != nil {
		return skipped(fmt.Sprintf("operator %s: %v", n.OperatorID, err))
	}

	// A combination missing from the operator's supported set is a warning,
	// not a failure: the clause still compiles when a form exists below.
	var warnings []string
	if !op.Supports(attr.DataType) {
		warnings = append(warnings, fmt.Sprintf("operator %q is not declared for type %s on attribute %q", op.Code, attr.DataType, attr.ContextName()))
	}

	field := "ctx." + attr.ContextName()

	var expr string
	var skip *string

	switch attr.DataType {
	case domain.DataTypeNumber:
		expr, skip = compileBinaryClause(field, op.Code, n.ValueRaw, formatNumberLiteral)
	case domain.DataTypeBool:
		expr, skip = compileBinaryClause(field, op.Code, n.ValueRaw, formatBoolLiteral)
	case domain.DataTypeDate:
		expr, skip = compileBinaryClause(field, op.Code, n.ValueRaw, formatDateLiteral)
	case domain.DataTypeString, domain.DataTypeGuid:
		expr, skip = compileStringClause(field, op.Code, n.ValueRaw)
	case domain.DataTypeStringArray:
		expr, skip = compileStringArrayClause(field, op.Code, n.ValueRaw)
	default:
		reason := fmt.Sprintf("attribute type %s is not supported in expressions", attr.DataType)
		skip = &reason
	}

	if skip != nil {
		return skipped(*skip)
	}

	return outcome{kind: outcomeOK, expression: expr, warnings: warnings}
}

// compileBinaryClause handles the six comparison operators shared by number,
// bool and date attributes.
func compileBinaryClause(field, opCode, raw string, formatLiteral func(string) (string, error)) (string, *string) {
	celOp, ok := binaryOperators[opCode]
	if !ok {
		reason := fmt.Sprintf("operator %q is not supported for this attribute type", opCode)
		return "", &reason
	}

	literal, err := formatLiteral(raw)
	if err != nil {
		reason := err.Error()
		return "", &reason
	}

	return fmt.Sprintf("%s %s %s", field, celOp, literal), nil
}

// compileStringClause supports eq and contains. Anything else aborts the
// containing group.
func compileStringClause(field, opCode, raw string) (string, *string) {
	switch opCode {
	case "eq":
		return fmt.Sprintf("%s == %s", field, quoteStringLiteral(raw)), nil
	case "contains":
		return fmt.Sprintf("%s.contains(%s)", field, quoteStringLiteral(raw)), nil
	default:
		reason := fmt.Sprintf("operator %q is not supported on string attributes", opCode)
		return "", &reason
	}
}

// compileStringArrayClause supports membership only.
func compileStringArrayClause(field, opCode, raw string) (string, *string) {
	if opCode != "in" {
		reason := fmt.Sprintf("operator %q is not supported on string-array attributes", opCode)
		return "", &reason
	}
	return fmt.Sprintf("%s in %s", quoteStringLiteral(raw), field), nil
}

// formatNumberLiteral parses with the invariant format and re-renders the
// shortest exact representation.
func formatNumberLiteral(raw string) (string, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return "", fmt.Errorf("invalid number literal %q", raw)
	}
	return strconv.FormatFloat(v, 'f', -1, 64), nil
}

// formatBoolLiteral accepts true/false case-insensitively.
func formatBoolLiteral(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true":
		return "true", nil
	case "false":
		return "false", nil
	default:
		return "", fmt.Errorf("invalid bool literal %q", raw)
	}
}

// formatDateLiteral validates RFC 3339 and emits a timestamp() call.
func formatDateLiteral(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if _, err := time.Parse(time.RFC3339, raw); err != nil {
		return "", fmt.Errorf("invalid date literal %q", raw)
	}
	return fmt.Sprintf("timestamp(%s)", quoteStringLiteral(raw)), nil
}

// quoteStringLiteral wraps a raw value in double quotes, escaping backslash
// and double-quote.
func quoteStringLiteral(raw string) string {
	escaped := strings.ReplaceAll(raw, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

// catalogResolver memoizes catalog lookups for the duration of one compile.
type catalogResolver struct {
	catalogs   Catalogs
	attributes map[string]*domain.AttributeCatalog
	operators  map[string]*domain.OperatorCatalog
}

func newCatalogResolver(catalogs Catalogs) *catalogResolver {
	return &catalogResolver{
		catalogs:   catalogs,
		attributes: make(map[string]*domain.AttributeCatalog),
		operators:  make(map[string]*domain.OperatorCatalog),
	}
}

func (r *catalogResolver) attribute(ctx context.Context, id string) (*domain.AttributeCatalog, error) {
	if attr, ok := r.attributes[id]; ok {
		return attr, nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid attribute id")
	}
	attr, err := r.catalogs.Attribute(ctx, parsed)
	if err != nil {
		return nil, err
	}
	r.attributes[id] = attr
	return attr, nil
}

func (r *catalogResolver) operator(ctx context.Context, id string) (*domain.OperatorCatalog, error) {
	if op, ok := r.operators[id]; ok {
		return op, nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid operator id")
	}
	op, err := r.catalogs.Operator(ctx, parsed)
	if err != nil {
		return nil, err
	}
	r.operators[id] = op
	return op, nil
}
