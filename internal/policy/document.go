// Package policy evaluates a policy document against one request. The
// engine is stateless; the rate check defers to an external counter.
package policy

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Document is the typed view over a policy's JSON document:
//
//	{
//	  "allowed_tools": ["purchase", ...],
//	  "spend": {"currency": "EUR", "max_per_tx": 100},
//	  "rate_limits": {"max_actions_per_min": 10}
//	}
//
// The spend and rate_limits sections are optional; an absent section
// makes the corresponding check pass unconditionally.
type Document struct {
	AllowedTools []string
	MaxPerTx     *float64
	Currency     string
	MaxPerMinute *int
}

// ParseDocument extracts the evaluated fields from a raw policy
// document. Unknown keys are ignored; malformed values in a present
// section fail closed by yielding an error.
func ParseDocument(raw map[string]any) (*Document, error) {
	doc := &Document{}

	if tools, ok := raw["allowed_tools"]; ok {
		list, ok := tools.([]any)
		if !ok {
			return nil, fmt.Errorf("policy: allowed_tools must be a list")
		}
		for _, t := range list {
			s, ok := t.(string)
			if !ok {
				return nil, fmt.Errorf("policy: allowed_tools entries must be strings")
			}
			doc.AllowedTools = append(doc.AllowedTools, s)
		}
	}

	if spend, ok := raw["spend"].(map[string]any); ok {
		if cur, ok := spend["currency"].(string); ok {
			doc.Currency = cur
		}
		if maxRaw, ok := spend["max_per_tx"]; ok && maxRaw != nil {
			max, ok := ParseAmount(maxRaw)
			if !ok {
				return nil, fmt.Errorf("policy: spend.max_per_tx is not numeric")
			}
			doc.MaxPerTx = &max
		}
	}

	if rl, ok := raw["rate_limits"].(map[string]any); ok {
		if limRaw, ok := rl["max_actions_per_min"]; ok && limRaw != nil {
			lim, ok := ParseAmount(limRaw)
			if !ok {
				return nil, fmt.Errorf("policy: rate_limits.max_actions_per_min is not numeric")
			}
			n := int(lim)
			doc.MaxPerMinute = &n
		}
	}

	return doc, nil
}

// ParseAmount permissively parses a string-or-number value the way the
// cross-language SDKs do. Returns false for anything non-numeric.
func ParseAmount(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
