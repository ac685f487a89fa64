// Package store provides the durable key/value storage the session store
// snapshots into after every mutation.
package store

// Keys used by the client. Each entry is rewritten in full on every mutating
// operation; there is no incremental persistence.
const (
	KeySessions       = "sessions"
	KeyCurrentSession = "currentSession"
	KeyModel          = "model"
)

// KV is the persistence contract. Get reports ok=false when the key has never
// been written.
type KV interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	Close() error
}
