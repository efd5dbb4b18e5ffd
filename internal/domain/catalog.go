package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DataType enumerates the attribute types the authoring compiler understands.
type DataType string

const (
	DataTypeString      DataType = "string"
	DataTypeNumber      DataType = "number"
	DataTypeDate        DataType = "date"
	DataTypeBool        DataType = "bool"
	DataTypeGuid        DataType = "guid"
	DataTypeStringArray DataType = "string_array"
	DataTypeNumberArray DataType = "number_array"
)

// ParseDataType validates a data type string (case-insensitive).
func ParseDataType(s string) (DataType, error) {
	switch DataType(strings.ToLower(strings.TrimSpace(s))) {
	case DataTypeString:
		return DataTypeString, nil
	case DataTypeNumber:
		return DataTypeNumber, nil
	case DataTypeDate:
		return DataTypeDate, nil
	case DataTypeBool:
		return DataTypeBool, nil
	case DataTypeGuid:
		return DataTypeGuid, nil
	case DataTypeStringArray:
		return DataTypeStringArray, nil
	case DataTypeNumberArray:
		return DataTypeNumberArray, nil
	default:
		return "", fmt.Errorf("unknown data type %q", s)
	}
}

// AttributeCatalog describes a typed event field the compiler may reference.
type AttributeCatalog struct {
	ID          uuid.UUID
	EntityName  string
	LogicalName string
	DisplayName string
	DataType    DataType
	Exposed     bool
}

// ContextName returns the attribute's field name inside the evaluation
// context: the canonical display name with spaces and dashes normalized to
// underscores.
func (a *AttributeCatalog) ContextName() string {
	name := strings.TrimSpace(a.DisplayName)
	if name == "" {
		name = a.LogicalName
	}
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	return name
}

// OperatorCatalog describes a comparison operator and the data types it
// supports. A clause using an operator outside its supported set compiles
// with a warning rather than failing.
type OperatorCatalog struct {
	ID             uuid.UUID
	Code           string
	DisplayName    string
	Active         bool
	SupportedTypes map[DataType]struct{}
}

// Supports reports whether the operator is declared for the given data type.
func (o *OperatorCatalog) Supports(dt DataType) bool {
	_, ok := o.SupportedTypes[dt]
	return ok
}
