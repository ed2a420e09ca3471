// Package directory holds the per-replica state of the user directory: the
// username -> address table and the undo log used to back out prepared writes.
//
// Neither structure is safe for concurrent use. The worker that owns them
// guards both with a single lock so that a staleness check and the undo log
// mutation it depends on happen atomically.
package directory

// Record is the stored form of one directory entry. The zero Record encodes
// as {}, which is what readers get for an unknown username.
type Record struct {
	Value string `json:"value,omitempty"`
}

// Store is the in-memory username -> address table of one replica.
type Store struct {
	records map[string]Record
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{records: make(map[string]Record)}
}

// Get returns the current value for key and whether it is set.
func (s *Store) Get(key string) (string, bool) {
	r, ok := s.records[key]
	return r.Value, ok
}

// Record returns the stored record for key.
func (s *Store) Record(key string) (Record, bool) {
	r, ok := s.records[key]
	return r, ok
}

// Set overwrites the value for key.
func (s *Store) Set(key, value string) {
	s.records[key] = Record{Value: value}
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) {
	delete(s.records, key)
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	return len(s.records)
}

// Snapshot returns a copy of every record.
func (s *Store) Snapshot() map[string]Record {
	out := make(map[string]Record, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}
