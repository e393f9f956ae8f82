package types

// EventAttribute is one key/value tag of an event. Indexed attributes
// are the ones block explorers and relayers can search by.
type EventAttribute struct {
	Key   string `cramberry:"1"`
	Value string `cramberry:"2"`
	Index bool   `cramberry:"3"`
}

// Event is emitted by a transaction or a block.
type Event struct {
	Kind       string           `cramberry:"1"`
	Attributes []EventAttribute `cramberry:"2"`
}

// NewEvent builds an event from key/value pairs, all indexed. An
// unpaired trailing key is dropped.
func NewEvent(kind string, kv ...string) Event {
	ev := Event{Kind: kind}
	for i := 0; i+1 < len(kv); i += 2 {
		ev.Add(kv[i], kv[i+1], true)
	}
	return ev
}

// Add appends an attribute.
func (e *Event) Add(key, value string, index bool) {
	e.Attributes = append(e.Attributes, EventAttribute{Key: key, Value: value, Index: index})
}

// Attr returns the value of the first attribute named key.
func (e Event) Attr(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}
