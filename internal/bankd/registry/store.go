package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/autopeer-io/bankupdate/internal/bankd/core"
)

var (
	banksBucket    = []byte("banks")
	pointersBucket = []byte("pointers")
)

// Pointer keys in the pointers bucket.
const (
	keyDesired   = "desired"
	keyLastTried = "last_tried"
	keyLastOK    = "last_ok"
)

// State is the persisted part of the registry. The running bank is detected at start,
// never stored.
type State struct {
	Banks         map[core.BankID]core.BankInfo
	DesiredBank   *core.BankID
	LastTriedBank *core.BankID
	LastOKBank    *core.BankID
}

// Store persists registry state. Save must be durable when it returns.
type Store interface {
	Load() (*State, error)
	Save(st *State) error
	Close() error
}

type boltStore struct {
	db *bolt.DB
}

var _ Store = (*boltStore)(nil)

// OpenBoltStore opens (creating if needed) the registry database at path.
func OpenBoltStore(path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open registry %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{banksBucket, pointersBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &boltStore{db: db}, nil
}

// Load returns the stored state. Banks without a record are absent from the map.
func (s *boltStore) Load() (*State, error) {
	st := &State{Banks: make(map[core.BankID]core.BankInfo)}

	err := s.db.View(func(tx *bolt.Tx) error {
		err := tx.Bucket(banksBucket).ForEach(func(k, v []byte) error {
			bank, err := core.ParseBankID(string(k))
			if err != nil {
				return err
			}
			var info core.BankInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return fmt.Errorf("bank %s record: %w", bank, err)
			}
			st.Banks[bank] = info
			return nil
		})
		if err != nil {
			return err
		}

		pointers := tx.Bucket(pointersBucket)
		for key, dst := range map[string]**core.BankID{
			keyDesired:   &st.DesiredBank,
			keyLastTried: &st.LastTriedBank,
			keyLastOK:    &st.LastOKBank,
		} {
			v := pointers.Get([]byte(key))
			if v == nil {
				continue
			}
			bank, err := core.ParseBankID(string(v))
			if err != nil {
				return fmt.Errorf("pointer %s: %w", key, err)
			}
			*dst = &bank
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Save replaces the stored state in a single transaction.
func (s *boltStore) Save(st *State) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		banks := tx.Bucket(banksBucket)
		for bank, info := range st.Banks {
			v, err := json.Marshal(info)
			if err != nil {
				return err
			}
			if err := banks.Put([]byte(bank), v); err != nil {
				return err
			}
		}

		pointers := tx.Bucket(pointersBucket)
		for key, bank := range map[string]*core.BankID{
			keyDesired:   st.DesiredBank,
			keyLastTried: st.LastTriedBank,
			keyLastOK:    st.LastOKBank,
		} {
			var err error
			if bank == nil {
				err = pointers.Delete([]byte(key))
			} else {
				err = pointers.Put([]byte(key), []byte(*bank))
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *boltStore) Close() error {
	return s.db.Close()
}
