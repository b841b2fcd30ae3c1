package trigger

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

// triggersBucket is the top-level bbolt bucket; each root path gets
// its own nested bucket of trigger name → Record, mirroring the
// per-root trigger map the state file replays on restart.
var triggersBucket = []byte("triggers")

// Record is the on-disk shape of one persisted trigger: the
// definition payload Raw (owned and interpreted by the out-of-scope
// command layer) plus the metadata this package itself needs to
// restart a command around a reconstructed Query.
type Record struct {
	Name          string
	Raw           []byte
	Command       []string
	AppendFiles   bool
	Stdin         StdinStyle
	MaxFilesStdin int
	Stdout        *Redirect
	Stderr        *Redirect
	RelativeRoot  string
}

// Store persists Records in a bbolt database, following the same
// "open once, Update/View per call" pattern rclone's cache backend
// uses around its own bolt.DB (backend/cache/storage_persistent.go).
type Store struct {
	db *bbolt.DB
}

// OpenStore opens (creating if absent) a bbolt database at path for
// trigger persistence.
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("trigger: opening state file %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(triggersBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("trigger: initializing state file: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Save persists def under rootPath, so it survives a daemon restart.
func (s *Store) Save(rootPath string, def Definition) error {
	rec := Record{
		Name:          def.Name,
		Raw:           def.Raw,
		Command:       def.Command,
		AppendFiles:   def.AppendFiles,
		Stdin:         def.Stdin,
		MaxFilesStdin: def.MaxFilesStdin,
		Stdout:        def.Stdout,
		Stderr:        def.Stderr,
		RelativeRoot:  def.RelativeRoot,
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("trigger: encoding record %s: %w", def.Name, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.Bucket(triggersBucket).CreateBucketIfNotExists([]byte(rootPath))
		if err != nil {
			return err
		}
		return root.Put([]byte(def.Name), buf)
	})
}

// Delete removes name's persisted record under rootPath, if any.
func (s *Store) Delete(rootPath, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(triggersBucket).Bucket([]byte(rootPath))
		if root == nil {
			return nil
		}
		return root.Delete([]byte(name))
	})
}

// List returns every Record persisted under rootPath.
func (s *Store) List(rootPath string) ([]Record, error) {
	var recs []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(triggersBucket).Bucket([]byte(rootPath))
		if root == nil {
			return nil
		}
		return root.ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("trigger: decoding record: %w", err)
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}
