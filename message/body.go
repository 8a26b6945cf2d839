package message

// Body is the typed content of a message. The set of implementations is
// closed: Command, Query, Response, Event and Report.
type Body interface {
	Type() Type
	payload() map[string]interface{}
	clone() Body
}

// Reserved payload keys for the flat wire encoding.
const (
	keyCommand = "command"
	keyQuery   = "query"
	keyEvent   = "event"
	keySubject = "subject"
	keyContent = "content"
)

// Command asks an agent to do something. No reply is expected.
type Command struct {
	Name   string
	Params map[string]interface{}
}

func (Command) Type() Type { return TypeCommand }

func (c Command) payload() map[string]interface{} {
	return withKey(c.Params, keyCommand, c.Name)
}

func (c Command) clone() Body {
	return Command{Name: c.Name, Params: cloneMap(c.Params)}
}

// Query asks an agent a question; the answer arrives as a Response carrying
// the same correlation id.
type Query struct {
	Question string
	Params   map[string]interface{}
}

func (Query) Type() Type { return TypeQuery }

func (q Query) payload() map[string]interface{} {
	return withKey(q.Params, keyQuery, q.Question)
}

func (q Query) clone() Body {
	return Query{Question: q.Question, Params: cloneMap(q.Params)}
}

// Response answers a Query.
type Response struct {
	Payload map[string]interface{}
}

func (Response) Type() Type { return TypeResponse }

func (r Response) payload() map[string]interface{} {
	return cloneMap(r.Payload)
}

func (r Response) clone() Body {
	return Response{Payload: cloneMap(r.Payload)}
}

// Event announces something that happened, usually on the broadcast channel.
type Event struct {
	Name string
	Data map[string]interface{}
}

func (Event) Type() Type { return TypeEvent }

func (e Event) payload() map[string]interface{} {
	return withKey(e.Data, keyEvent, e.Name)
}

func (e Event) clone() Body {
	return Event{Name: e.Name, Data: cloneMap(e.Data)}
}

// Report carries the outcome of work up the hierarchy.
type Report struct {
	Subject string
	Content string
	Data    map[string]interface{}
}

func (Report) Type() Type { return TypeReport }

func (r Report) payload() map[string]interface{} {
	p := withKey(r.Data, keySubject, r.Subject)
	p[keyContent] = r.Content
	return p
}

func (r Report) clone() Body {
	return Report{Subject: r.Subject, Content: r.Content, Data: cloneMap(r.Data)}
}

// bodyFromPayload rebuilds the typed body for t from a decoded payload.
func bodyFromPayload(t Type, p map[string]interface{}) (Body, bool) {
	switch t {
	case TypeCommand:
		name, rest := splitKey(p, keyCommand)
		return Command{Name: name, Params: rest}, true
	case TypeQuery:
		q, rest := splitKey(p, keyQuery)
		return Query{Question: q, Params: rest}, true
	case TypeResponse:
		return Response{Payload: cloneMap(p)}, true
	case TypeEvent:
		name, rest := splitKey(p, keyEvent)
		return Event{Name: name, Data: rest}, true
	case TypeReport:
		subject, rest := splitKey(p, keySubject)
		content, rest := splitKey(rest, keyContent)
		return Report{Subject: subject, Content: content, Data: rest}, true
	}
	return nil, false
}

// withKey copies m and sets the reserved key, which wins over any param of
// the same name.
func withKey(m map[string]interface{}, key, value string) map[string]interface{} {
	out := cloneMap(m)
	if out == nil {
		out = make(map[string]interface{}, 1)
	}
	out[key] = value
	return out
}

// splitKey removes key from a copy of m and returns its string value.
func splitKey(m map[string]interface{}, key string) (string, map[string]interface{}) {
	rest := cloneMap(m)
	var value string
	if v, ok := rest[key]; ok {
		if s, ok := v.(string); ok {
			value = s
		}
		delete(rest, key)
	}
	if len(rest) == 0 {
		rest = nil
	}
	return value, rest
}

// cloneMap deep-copies nested maps and slices so bodies never alias.
func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cloneMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
