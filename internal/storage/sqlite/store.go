package sqlite

// Store bundles every SQLite store over one database.
type Store struct {
	*CatalogStore
	*AlarmStore
	*SampleStore
	*StatusStore

	db *DB
}

// NewStore opens the database at path and returns all stores over it.
func NewStore(path string) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return newStore(db), nil
}

func newStore(db *DB) *Store {
	return &Store{
		CatalogStore: NewCatalogStore(db),
		AlarmStore:   NewAlarmStore(db),
		SampleStore:  NewSampleStore(db),
		StatusStore:  NewStatusStore(db),
		db:           db,
	}
}

// DB returns the underlying database.
func (s *Store) DB() *DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
