package intake

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Fields maps required-field keys to collected values. A set field holds a
// non-empty list; single answers are one-element lists. The zero value is
// not usable — construct with NewFields or DecodeFields.
type Fields map[string][]string

// NewFields returns an empty field map.
func NewFields() Fields {
	return make(Fields)
}

// Set replaces the value list for key. Empty values are dropped; setting
// only empty values removes the key.
func (f Fields) Set(key string, vals ...string) {
	var kept []string
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		delete(f, key)
		return
	}
	f[key] = kept
}

// Add appends a value to key's list.
func (f Fields) Add(key, val string) {
	if strings.TrimSpace(val) == "" {
		return
	}
	f[key] = append(f[key], val)
}

// Get returns the first value for key, or "" if unset.
func (f Fields) Get(key string) string {
	if vs := f[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// IsSet reports whether key has at least one non-empty value.
func (f Fields) IsSet(key string) bool {
	return len(f[key]) > 0
}

// Clone returns a deep copy.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, vs := range f {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Keys returns the set keys in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MergeNoOverwrite applies src into f, skipping any key that is already
// populated, and returns the number of keys newly applied. This is the
// gathering/recovery merge policy: an earlier correct answer is never
// clobbered by a later unrelated message.
func (f Fields) MergeNoOverwrite(src Fields) int {
	applied := 0
	for k, vs := range src {
		if f.IsSet(k) || len(vs) == 0 {
			continue
		}
		f.Set(k, vs...)
		if f.IsSet(k) {
			applied++
		}
	}
	return applied
}

// MergeOverwrite applies every populated key of src into f, replacing
// existing values, and returns the number of keys whose value changed.
// This is the confirming-state correction policy.
func (f Fields) MergeOverwrite(src Fields) int {
	changed := 0
	for k, vs := range src {
		if len(vs) == 0 {
			continue
		}
		before := strings.Join(f[k], "\x00")
		f.Set(k, vs...)
		if strings.Join(f[k], "\x00") != before {
			changed++
		}
	}
	return changed
}

// Encode serializes the fields to their JSON column form.
func (f Fields) Encode() (string, error) {
	if len(f) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("intake: encode fields: %w", err)
	}
	return string(data), nil
}

// DecodeFields parses the JSON column form. Empty input yields an empty map.
func DecodeFields(raw string) (Fields, error) {
	f := NewFields()
	if strings.TrimSpace(raw) == "" {
		return f, nil
	}
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("intake: decode fields: %w", err)
	}
	return f, nil
}
