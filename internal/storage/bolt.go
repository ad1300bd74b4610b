package storage

import (
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"
	"github.com/rs/zerolog"

	"github.com/objtalk/objtalkd/internal/broker"
)

var objectsBucket = []byte("objects")

// Bolt persists objects to a single boltdb file, one key per object name,
// JSON-encoded. It is the backend selected by storage.backend = "sqlite"
// in the config file — see DESIGN.md for why the on-disk engine underneath
// that name is boltdb rather than SQLite.
type Bolt struct {
	db  *bolt.DB
	log zerolog.Logger
}

var _ broker.Storage = (*Bolt)(nil)

// OpenBolt opens (creating if necessary) the boltdb file at path and
// ensures its object bucket exists. Write failures after open are logged
// rather than returned — broker.Storage's contract is infallible, since
// the broker's own operations must not fail on a storage hiccup.
func OpenBolt(path string, log zerolog.Logger) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(objectsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init bucket: %w", err)
	}
	return &Bolt{db: db, log: log.With().Str("component", "storage.bolt").Logger()}, nil
}

// Close releases the underlying file lock.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// GetObjects returns every persisted object, in no particular order.
func (b *Bolt) GetObjects() ([]broker.Object, error) {
	var out []broker.Object
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(objectsBucket)
		return bucket.ForEach(func(_, value []byte) error {
			var obj broker.Object
			if err := json.Unmarshal(value, &obj); err != nil {
				return err
			}
			out = append(out, obj)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("storage: get objects: %w", err)
	}
	return out, nil
}

func (b *Bolt) AddObject(obj broker.Object)    { b.put(obj) }
func (b *Bolt) ChangeObject(obj broker.Object) { b.put(obj) }

func (b *Bolt) put(obj broker.Object) {
	encoded, err := json.Marshal(obj)
	if err != nil {
		b.log.Error().Err(err).Str("object", obj.Name).Msg("encode object for storage")
		return
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(objectsBucket).Put([]byte(obj.Name), encoded)
	})
	if err != nil {
		b.log.Error().Err(err).Str("object", obj.Name).Msg("persist object")
	}
}

func (b *Bolt) RemoveObject(obj broker.Object) {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(objectsBucket).Delete([]byte(obj.Name))
	})
	if err != nil {
		b.log.Error().Err(err).Str("object", obj.Name).Msg("remove object from storage")
	}
}
