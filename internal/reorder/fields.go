package reorder

import "strings"

// FieldDelete marks a dotted path whose field must be removed rather than
// written.
type FieldDelete struct{}

// FieldUpdates translates a plan into partial document writes keyed by
// "<collection>.<itemId>.position". The deleted item maps to
// "<collection>.<itemId>" with a FieldDelete value, and an inserted item maps
// to "<collection>.<itemId>" with the full item.
func (p Plan[T]) FieldUpdates(collection string) map[string]any {
	prefix := strings.TrimSuffix(collection, ".")
	out := make(map[string]any, len(p.Updates)+2)
	for _, u := range p.Updates {
		out[prefix+"."+u.ID+".position"] = u.Position
	}
	if p.Delete != "" {
		out[prefix+"."+p.Delete] = FieldDelete{}
	}
	if p.Insert != nil {
		var item any = p.Insert.Item
		if o, ok := item.(interface{ ItemID() string }); ok {
			out[prefix+"."+o.ItemID()] = p.Insert.Item
		}
	}
	return out
}

// MarshalJSON renders a delete marker as the string "<delete>" so activity
// payloads stay readable.
func (FieldDelete) MarshalJSON() ([]byte, error) {
	return []byte(`"<delete>"`), nil
}
