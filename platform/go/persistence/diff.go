package persistence

import (
	"encoding/json"
	"fmt"
)

// PropertyChange captures the before/after values of a key that exists in
// both snapshots but differs between them.
type PropertyChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// PropertyDiff describes the difference between two property documents.
type PropertyDiff struct {
	Added   map[string]any            `json:"added"`
	Removed map[string]any            `json:"removed"`
	Changed map[string]PropertyChange `json:"changed"`
}

// Empty reports whether the diff carries no changes.
func (d PropertyDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffProperties compares two raw property documents key by key. Values are
// compared under canonical JSON rendering, so key order and number lexemes do
// not produce spurious changes.
func DiffProperties(oldRaw, newRaw json.RawMessage) (PropertyDiff, error) {
	oldDoc, err := decodePropertyObject(oldRaw)
	if err != nil {
		return PropertyDiff{}, fmt.Errorf("decode old properties: %w", err)
	}
	newDoc, err := decodePropertyObject(newRaw)
	if err != nil {
		return PropertyDiff{}, fmt.Errorf("decode new properties: %w", err)
	}

	diff := PropertyDiff{
		Added:   map[string]any{},
		Removed: map[string]any{},
		Changed: map[string]PropertyChange{},
	}

	for key, newValue := range newDoc {
		oldValue, ok := oldDoc[key]
		if !ok {
			diff.Added[key] = newValue
			continue
		}
		if !CanonicalEqual(oldValue, newValue) {
			diff.Changed[key] = PropertyChange{Old: oldValue, New: newValue}
		}
	}

	for key, oldValue := range oldDoc {
		if _, ok := newDoc[key]; !ok {
			diff.Removed[key] = oldValue
		}
	}

	return diff, nil
}

func decodePropertyObject(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}
