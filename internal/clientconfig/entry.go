package clientconfig

import (
	"encoding/json"
	"maps"
	"slices"
)

// Entry is one server as it appears inside a client configuration file.
// Recognized launch fields are typed; anything else the client (or its user)
// stored alongside them survives round-trips in Extra.
type Entry struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	// Type is the transport kind for clients that record one ("stdio").
	Type string
	// Extra holds unrecognized fields, preserved verbatim.
	Extra map[string]json.RawMessage
}

// EquivalentTo reports whether the launch-relevant fields of both entries
// match. Extra fields do not participate; they belong to the client.
func (e Entry) EquivalentTo(other Entry) bool {
	return e.Command == other.Command &&
		e.Type == other.Type &&
		slices.Equal(e.Args, other.Args) &&
		maps.Equal(e.Env, other.Env)
}

func (e Entry) marshal() (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage, len(e.Extra)+4)
	for k, v := range e.Extra {
		fields[k] = v
	}

	put := func(key string, value any) error {
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		fields[key] = raw
		return nil
	}

	if err := put("command", e.Command); err != nil {
		return nil, err
	}
	args := e.Args
	if args == nil {
		args = []string{}
	}
	if err := put("args", args); err != nil {
		return nil, err
	}
	if len(e.Env) > 0 {
		if err := put("env", e.Env); err != nil {
			return nil, err
		}
	} else {
		delete(fields, "env")
	}
	if e.Type != "" {
		if err := put("type", e.Type); err != nil {
			return nil, err
		}
	} else {
		delete(fields, "type")
	}

	return json.Marshal(fields)
}

func unmarshalEntry(name string, raw json.RawMessage) (Entry, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Entry{}, err
	}

	entry := Entry{Name: name}
	take := func(key string, dst any) error {
		value, ok := fields[key]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(value, dst); err != nil {
			return err
		}
		delete(fields, key)
		return nil
	}

	if err := take("command", &entry.Command); err != nil {
		return Entry{}, err
	}
	if err := take("args", &entry.Args); err != nil {
		return Entry{}, err
	}
	if err := take("env", &entry.Env); err != nil {
		return Entry{}, err
	}
	if err := take("type", &entry.Type); err != nil {
		return Entry{}, err
	}
	if len(fields) > 0 {
		entry.Extra = fields
	}
	return entry, nil
}
