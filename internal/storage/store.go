// Package storage provides the device-local key-value store backing every
// entity store. Two drivers exist: a JSON file for set-top deployments and a
// Postgres table for the self-hosted server build.
package storage

// Store is the persistent key-value contract. All operations are synchronous;
// read failures degrade to the caller's default instead of erroring so a
// corrupt store never takes the UI down with it.
type Store interface {
	// Get returns the value for key, or def when the key is absent or the
	// store is unreadable.
	Get(key, def string) string
	Set(key, value string) error
	Remove(key string) error
}
