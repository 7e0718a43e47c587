package domain

import "fmt"

// Operation is one change category computed for a run. Each operation knows
// the catalog API method it maps to, the uploader endpoint that processes
// it, and the suffix of its run-scoped processing table.
type Operation string

const (
	OperationUpsert          Operation = "upsert"
	OperationDelete          Operation = "delete"
	OperationPreventExpiring Operation = "prevent_expiring"
)

// Method is a catalog API batch entry method. Prevent-expiring re-inserts
// the item, so only insert and delete exist on the wire.
type Method string

const (
	MethodInsert Method = "insert"
	MethodDelete Method = "delete"
)

func Operations() []Operation {
	return []Operation{OperationUpsert, OperationDelete, OperationPreventExpiring}
}

func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OperationUpsert, OperationDelete, OperationPreventExpiring:
		return Operation(s), nil
	}
	return "", fmt.Errorf("unknown operation: %q", s)
}

func (op Operation) Method() Method {
	switch op {
	case OperationDelete:
		return MethodDelete
	default:
		return MethodInsert
	}
}

func (op Operation) TargetURL() string {
	switch op {
	case OperationDelete:
		return "/delete_items"
	case OperationPreventExpiring:
		return "/prevent_expiring_items"
	default:
		return "/insert_items"
	}
}

// TableSuffix names the processing table for a run:
// process_items_to_<suffix>_<timestamp>.
func (op Operation) TableSuffix() string {
	return string(op)
}

func (op Operation) String() string {
	return string(op)
}
