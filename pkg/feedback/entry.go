// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package feedback

import (
	"encoding/json"
	"fmt"
)

// Type tags an entry's severity. Only the three constants below drive the
// derived views; any other tag is stored and queried like the rest.
type Type string

const (
	// TypeError marks feedback that makes the owning scope invalid.
	TypeError Type = "error"

	// TypeWarning marks advisory feedback.
	TypeWarning Type = "warning"

	// TypeSuccess marks positive confirmation (e.g. "username available").
	TypeSuccess Type = "success"
)

// RootPath is the path given to entries that do not name a field.
// It addresses the form as a whole.
const RootPath = "@root"

// Map keys used when an entry is represented as an open record.
const (
	keyType        = "type"
	keyCode        = "code"
	keyPath        = "path"
	keyMessages    = "messages"
	keyTriggerType = "triggerType"
)

// Entry is one feedback record.
//
// An entry is an open record: the fixed fields below plus any number of
// caller-supplied Extra keys. The zero value of a fixed field means
// "omitted"; for Messages that is a nil slice. A non-nil empty Messages is
// an explicit value meaning "no messages" and makes the entry logically
// cleared.
type Entry struct {
	// Type is the severity tag.
	Type Type `msgpack:"type" validate:"required,max=64"`

	// Code distinguishes entries of the same type at the same path,
	// typically the validation rule that produced them.
	Code string `msgpack:"code,omitempty" validate:"max=128"`

	// Path is the field address. Update stores RootPath when empty.
	Path string `msgpack:"path,omitempty" validate:"max=1024"`

	// Messages are the human-readable texts, in order.
	Messages []string `msgpack:"messages"`

	// TriggerType records what caused the feedback (e.g. "onBlur").
	TriggerType string `msgpack:"triggerType,omitempty" validate:"max=128"`

	// Extra holds caller-defined fields preserved through merges.
	Extra map[string]any `msgpack:"extra,omitempty"`
}

// EntryKey identifies the match dimensions of an entry.
type EntryKey struct {
	Type        Type
	Code        string
	Path        string
	TriggerType string
}

// Key returns the entry's match dimensions.
func (e Entry) Key() EntryKey {
	return EntryKey{Type: e.Type, Code: e.Code, Path: e.Path, TriggerType: e.TriggerType}
}

// HasMessages reports whether the entry carries at least one message.
// Entries without messages are excluded from Find results.
func (e Entry) HasMessages() bool {
	return len(e.Messages) > 0
}

// Clone returns a copy that shares no mutable state with e.
// A nil Messages stays nil and an empty one stays empty.
func (e Entry) Clone() Entry {
	out := e
	if e.Messages != nil {
		out.Messages = make([]string, len(e.Messages))
		copy(out.Messages, e.Messages)
	}
	if e.Extra != nil {
		out.Extra = make(map[string]any, len(e.Extra))
		for k, v := range e.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Merge returns e with every field defined by incoming overwritten.
//
// Fields omitted by incoming keep e's value. Messages are replaced, never
// appended. Extra keys are merged one by one, incoming winning.
func (e Entry) Merge(incoming Entry) Entry {
	out := e.Clone()

	if incoming.Type != "" {
		out.Type = incoming.Type
	}
	if incoming.Code != "" {
		out.Code = incoming.Code
	}
	if incoming.Path != "" {
		out.Path = incoming.Path
	}
	if incoming.Messages != nil {
		out.Messages = make([]string, len(incoming.Messages))
		copy(out.Messages, incoming.Messages)
	}
	if incoming.TriggerType != "" {
		out.TriggerType = incoming.TriggerType
	}
	if len(incoming.Extra) > 0 && out.Extra == nil {
		out.Extra = make(map[string]any, len(incoming.Extra))
	}
	for k, v := range incoming.Extra {
		out.Extra[k] = v
	}

	return out
}

// normalized returns a copy with an empty path replaced by RootPath.
func (e Entry) normalized() Entry {
	out := e.Clone()
	if out.Path == "" {
		out.Path = RootPath
	}
	return out
}

// ToMap flattens the entry into an open record. Omitted fixed fields are
// left out; Extra keys never shadow fixed fields.
func (e Entry) ToMap() map[string]any {
	m := make(map[string]any, len(e.Extra)+5)
	for k, v := range e.Extra {
		m[k] = v
	}

	delete(m, keyType)
	delete(m, keyCode)
	delete(m, keyPath)
	delete(m, keyMessages)
	delete(m, keyTriggerType)

	if e.Type != "" {
		m[keyType] = string(e.Type)
	}
	if e.Code != "" {
		m[keyCode] = e.Code
	}
	if e.Path != "" {
		m[keyPath] = e.Path
	}
	if e.Messages != nil {
		msgs := make([]string, len(e.Messages))
		copy(msgs, e.Messages)
		m[keyMessages] = msgs
	}
	if e.TriggerType != "" {
		m[keyTriggerType] = e.TriggerType
	}

	return m
}

// EntryFromMap builds an entry from an open record such as decoded JSON or
// YAML. Unknown keys become Extra. "messages" may be a list of strings or a
// single string.
//
// Outputs:
//
//	Entry - The decoded entry.
//	error - Non-nil if a fixed field has the wrong shape.
func EntryFromMap(m map[string]any) (Entry, error) {
	var e Entry

	for k, v := range m {
		switch k {
		case keyType:
			s, err := stringField(k, v)
			if err != nil {
				return Entry{}, err
			}
			e.Type = Type(s)
		case keyCode:
			s, err := stringField(k, v)
			if err != nil {
				return Entry{}, err
			}
			e.Code = s
		case keyPath:
			s, err := stringField(k, v)
			if err != nil {
				return Entry{}, err
			}
			e.Path = s
		case keyTriggerType:
			s, err := stringField(k, v)
			if err != nil {
				return Entry{}, err
			}
			e.TriggerType = s
		case keyMessages:
			msgs, err := messagesField(v)
			if err != nil {
				return Entry{}, err
			}
			e.Messages = msgs
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]any)
			}
			e.Extra[k] = v
		}
	}

	return e, nil
}

// MarshalJSON encodes the entry as a flat JSON object.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToMap())
}

// UnmarshalJSON decodes a flat JSON object, keeping unknown keys in Extra.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	decoded, err := EntryFromMap(m)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

func stringField(key string, v any) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	default:
		return "", fmt.Errorf("field %q: expected string, got %T", key, v)
	}
}

func messagesField(v any) ([]string, error) {
	switch msgs := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{msgs}, nil
	case []string:
		out := make([]string, len(msgs))
		copy(out, msgs)
		return out, nil
	case []any:
		out := make([]string, 0, len(msgs))
		for i, item := range msgs {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("field %q[%d]: expected string, got %T", keyMessages, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("field %q: expected list of strings, got %T", keyMessages, v)
	}
}
