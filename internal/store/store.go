// Package store persists the project identifier to device credential mapping.
//
// The mapping is small and read fully on every transaction: the durable copy,
// not process memory, is the source of truth. Two backends exist behind the
// same interface, a dual-file store (JSON plus a human-readable CSV mirror)
// and an embedded SQLite database.
package store

// Store is a durable backend for the device mapping.
type Store interface {
	// Load reads the full mapping. A missing or unreadable backing store
	// yields an empty mapping, never an error: the gateway degrades to
	// re-provisioning rather than refusing service.
	Load() *Mapping

	// Save writes the full mapping. Failures are reported but must leave
	// the caller's in-memory mapping untouched.
	Save(m *Mapping) error
}
