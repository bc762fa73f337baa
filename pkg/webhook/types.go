package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/tidwall/gjson"
)

const (
	secretNameKey = "secretName"
	kafkaKey      = "kafka"
	openSearchKey = "openSearch"
)

// Spec is the part of an AivenApplication spec the migration reads and writes.
// Keys it does not track are kept verbatim in Extra. Encoding writes keys in
// the order they were decoded, with keys that were not there before sorted
// after them, so a round trip reproduces the input bytes.
type Spec struct {
	SecretName *string
	Kafka      *SubResource
	OpenSearch *SubResource
	Extra      map[string]json.RawMessage

	order []string
}

// SubResource is a nested block under spec that may own its own secretName.
type SubResource struct {
	SecretName *string
	Extra      map[string]json.RawMessage

	order []string
}

// UnmarshalJSON decodes a spec object. A tracked sub-resource that is present
// but not an object fails with ErrInvalidSpecShape; an explicit null is passed
// through untouched.
func (s *Spec) UnmarshalJSON(data []byte) error {
	keys, fields, err := decodeObject("spec", data)
	if err != nil {
		return err
	}

	*s = Spec{Extra: map[string]json.RawMessage{}, order: keys}
	for key, raw := range fields {
		switch key {
		case secretNameKey:
			if s.SecretName, err = decodeSecretName("spec."+key, raw); err != nil {
				return err
			}
		case kafkaKey, openSearchKey:
			if isNull(raw) {
				s.Extra[key] = raw
				continue
			}
			sub := &SubResource{}
			if err := sub.decode("spec."+key, raw); err != nil {
				return err
			}
			if key == kafkaKey {
				s.Kafka = sub
			} else {
				s.OpenSearch = sub
			}
		default:
			s.Extra[key] = raw
		}
	}
	return nil
}

// MarshalJSON encodes the spec, merging Extra back in alongside the tracked
// keys. Strings are not HTML-escaped.
func (s Spec) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(s.Extra)+3)
	maps.Copy(fields, s.Extra)
	if s.SecretName != nil {
		name, err := encodeString(*s.SecretName)
		if err != nil {
			return nil, err
		}
		fields[secretNameKey] = name
	}
	for key, sub := range map[string]*SubResource{kafkaKey: s.Kafka, openSearchKey: s.OpenSearch} {
		if sub == nil {
			continue
		}
		raw, err := sub.MarshalJSON()
		if err != nil {
			return nil, err
		}
		fields[key] = raw
	}
	return encodeObject(s.order, fields)
}

// UnmarshalJSON decodes a sub-resource object.
func (r *SubResource) UnmarshalJSON(data []byte) error {
	return r.decode("sub-resource", data)
}

func (r *SubResource) decode(field string, data []byte) error {
	keys, fields, err := decodeObject(field, data)
	if err != nil {
		return err
	}

	*r = SubResource{Extra: map[string]json.RawMessage{}, order: keys}
	for key, raw := range fields {
		if key == secretNameKey {
			if r.SecretName, err = decodeSecretName(field+"."+key, raw); err != nil {
				return err
			}
			continue
		}
		r.Extra[key] = raw
	}
	return nil
}

// MarshalJSON encodes the sub-resource with its passthrough fields.
func (r SubResource) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(r.Extra)+1)
	maps.Copy(fields, r.Extra)
	if r.SecretName != nil {
		name, err := encodeString(*r.SecretName)
		if err != nil {
			return nil, err
		}
		fields[secretNameKey] = name
	}
	return encodeObject(r.order, fields)
}

// subResources returns the tracked sub-resources in checklist order.
// Absent ones are skipped.
func (s *Spec) subResources() []*SubResource {
	var subs []*SubResource
	for _, sub := range []*SubResource{s.Kafka, s.OpenSearch} {
		if sub != nil {
			subs = append(subs, sub)
		}
	}
	return subs
}

// relocateSecretName consumes the root secretName and copies it into every
// present sub-resource that does not define its own. Sub-resources are never
// created. It reports whether the spec changed.
func (s *Spec) relocateSecretName() bool {
	if s.SecretName == nil {
		return false
	}
	for _, sub := range s.subResources() {
		if sub.SecretName == nil {
			name := *s.SecretName
			sub.SecretName = &name
		}
	}
	s.SecretName = nil
	return true
}

// decodeObject splits a JSON object into its keys, in document order, and
// their raw values. A repeated key keeps its first position and its last value.
func decodeObject(field string, data []byte) ([]string, map[string]json.RawMessage, error) {
	obj := gjson.ParseBytes(data)
	if !gjson.ValidBytes(data) || !obj.IsObject() {
		return nil, nil, fmt.Errorf("%w: %s is not an object", ErrInvalidSpecShape, field)
	}

	var keys []string
	fields := map[string]json.RawMessage{}
	obj.ForEach(func(key, value gjson.Result) bool {
		if _, seen := fields[key.Str]; !seen {
			keys = append(keys, key.Str)
		}
		fields[key.Str] = json.RawMessage(value.Raw)
		return true
	})
	return keys, fields, nil
}

func encodeObject(order []string, fields map[string]json.RawMessage) ([]byte, error) {
	keys := make([]string, 0, len(fields))
	for _, key := range order {
		if _, ok := fields[key]; ok {
			keys = append(keys, key)
		}
	}
	var added []string
	for key := range fields {
		if !slices.Contains(order, key) {
			added = append(added, key)
		}
	}
	slices.Sort(added)
	keys = append(keys, added...)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := encodeString(key)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(fields[key])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeString(v string) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func decodeSecretName(field string, raw json.RawMessage) (*string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidSpecShape, field)
	}
	return &name, nil
}

func isNull(raw []byte) bool {
	return gjson.ParseBytes(raw).Type == gjson.Null
}
