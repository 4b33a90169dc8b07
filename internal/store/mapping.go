package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Mapping is an insertion-ordered table of project identifier to device
// credential. A credential is written at most once per identifier and is
// immutable afterwards; there is no renewal path.
type Mapping struct {
	order   []string
	entries map[string]string
}

// NewMapping returns an empty mapping
func NewMapping() *Mapping {
	return &Mapping{
		entries: make(map[string]string),
	}
}

// Get returns the credential for a project identifier
func (m *Mapping) Get(projectID string) (string, bool) {
	credential, ok := m.entries[projectID]
	return credential, ok
}

// Put inserts a credential for a project identifier. An existing entry is
// left untouched: credentials are immutable once written.
func (m *Mapping) Put(projectID, credential string) {
	if _, exists := m.entries[projectID]; exists {
		return
	}
	m.entries[projectID] = credential
	m.order = append(m.order, projectID)
}

// Len returns the number of entries
func (m *Mapping) Len() int {
	return len(m.entries)
}

// ProjectIDs returns the project identifiers in insertion order
func (m *Mapping) ProjectIDs() []string {
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	return ids
}

// MarshalJSON serializes the mapping as a JSON object preserving insertion
// order, matching the on-disk format operators already know.
func (m *Mapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, projectID := range m.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(projectID)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(m.entries[projectID])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a JSON object into the mapping, preserving the key
// order in the document.
func (m *Mapping) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to parse mapping: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("mapping must be a JSON object")
	}

	m.order = nil
	m.entries = make(map[string]string)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to parse mapping key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("mapping key must be a string")
		}

		var credential string
		if err := dec.Decode(&credential); err != nil {
			return fmt.Errorf("failed to parse credential for %q: %w", key, err)
		}

		m.Put(key, credential)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("failed to parse mapping: %w", err)
	}

	return nil
}
