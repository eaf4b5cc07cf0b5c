package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Format renders a term in policy syntax. Used for diagnostics, the REPL,
// and audit records; not a wire format.
func Format(t *Term) string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case KindVariable:
		return t.Name
	case KindSymbol:
		return t.Name
	case KindString:
		return strconv.Quote(t.Str)
	case KindNumber:
		if t.IsFloat {
			return strconv.FormatFloat(t.Flt, 'g', -1, 64)
		}
		return strconv.FormatInt(t.Int, 10)
	case KindBoolean:
		return strconv.FormatBool(t.Bool)
	case KindList:
		return "[" + formatItems(t.Items, ", ") + "]"
	case KindDict:
		return "{" + formatFields(t.Fields) + "}"
	case KindInstance:
		return fmt.Sprintf("<%s:%s>", t.Name, t.Handle)
	case KindPattern:
		if len(t.Fields) == 0 {
			return t.Name
		}
		return t.Name + "{" + formatFields(t.Fields) + "}"
	case KindCall:
		return t.Name + "(" + formatItems(t.Items, ", ") + ")"
	case KindExpression:
		if len(t.Items) == 2 {
			return Format(t.Items[0]) + " " + t.Name + " " + Format(t.Items[1])
		}
		return t.Name + "(" + formatItems(t.Items, ", ") + ")"
	default:
		return "<unknown>"
	}
}

func formatItems(items []*Term, sep string) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = Format(it)
	}
	return strings.Join(parts, sep)
}

func formatFields(fields map[string]*Term) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + Format(fields[k])
	}
	return strings.Join(parts, ", ")
}
