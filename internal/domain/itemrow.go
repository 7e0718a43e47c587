package domain

import "fmt"

// ItemRow is one feed row as loaded from a processing table. Feed columns
// vary per merchant, so rows stay schemaless.
type ItemRow map[string]any

func (r ItemRow) ItemID() string {
	return r.stringField("item_id")
}

func (r ItemRow) MerchantID() string {
	return r.stringField("merchant_id")
}

func (r ItemRow) stringField(name string) string {
	v, ok := r[name]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
