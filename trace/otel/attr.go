package otel

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/m-mizutani/agenteval/trace"
	"go.opentelemetry.io/otel/attribute"
)

const attrPrefix = "agenteval."

func spanKindAttr(kind trace.SpanKind) attribute.KeyValue {
	return attribute.String(attrPrefix+"span.kind", string(kind))
}

func spanIDAttr(id string) attribute.KeyValue {
	return attribute.String(attrPrefix+"span.id", id)
}

func statusAttr(status trace.SpanStatus) attribute.KeyValue {
	return attribute.String(attrPrefix+"status", string(status))
}

// convertAttributes maps span attributes to OTel attributes in key order.
// Scalars keep their type; anything else is JSON encoded.
func convertAttributes(attrs map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kvs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		kvs = append(kvs, convertValue(attrPrefix+k, attrs[k]))
	}
	return kvs
}

func convertValue(key string, v any) attribute.KeyValue {
	switch x := v.(type) {
	case string:
		return attribute.String(key, x)
	case bool:
		return attribute.Bool(key, x)
	case int:
		return attribute.Int(key, x)
	case int64:
		return attribute.Int64(key, x)
	case float64:
		return attribute.Float64(key, x)
	case []string:
		return attribute.StringSlice(key, x)
	}

	if b, err := json.Marshal(v); err == nil {
		return attribute.String(key, string(b))
	}
	return attribute.String(key, fmt.Sprintf("%v", v))
}
