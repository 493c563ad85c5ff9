package boltstore

import (
	"bytes"
	"sync"
	"time"

	"github.com/boltdb/bolt"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/store"
)

// Store keeps every key in one bucket of a bolt file. TTLs are not supported.
type Store struct {
	sync.Mutex
	storePath  string
	bucketName []byte

	db *bolt.DB
}

func New(storePath string, bucketName string) *Store {
	return &Store{storePath: storePath, bucketName: []byte(bucketName)}
}

func (s *Store) Name() string {
	return "bolt"
}

func (s *Store) open() (*bolt.DB, error) {
	s.Lock()
	defer s.Unlock()

	if s.db != nil {
		return s.db, nil
	}

	db, err := bolt.Open(s.storePath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s.db = db
	return db, nil
}

func (s *Store) Get(key string) (val []byte, err error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}

	err = db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucketName).Get([]byte(key))
		if v == nil {
			return store.ErrNotFound
		}
		// bolt values are only valid inside the transaction
		val = append([]byte(nil), v...)
		return nil
	})
	return
}

func (s *Store) Set(key string, val []byte, options *store.WriteOptions) error {
	db, err := s.open()
	if err != nil {
		return err
	}

	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucketName).Put([]byte(key), val)
	})
}

func (s *Store) Exists(key string) (exists bool, err error) {
	db, err := s.open()
	if err != nil {
		return false, err
	}

	err = db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(s.bucketName).Get([]byte(key)) != nil
		return nil
	})
	return
}

func (s *Store) Delete(key string) error {
	db, err := s.open()
	if err != nil {
		return err
	}

	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucketName).Delete([]byte(key))
	})
}

func (s *Store) DeleteAll(prefix string) error {
	db, err := s.open()
	if err != nil {
		return err
	}

	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucketName)
		p := []byte(prefix)
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Scan(prefix string, skip int, limit int, fn func(key string, val []byte)) error {
	db, err := s.open()
	if err != nil {
		return err
	}

	return db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucketName).Cursor()
		p := []byte(prefix)
		n := 0
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			n++
			if n <= skip {
				continue
			}
			if limit > 0 && n > skip+limit {
				break
			}
			fn(string(k), append([]byte(nil), v...))
		}
		return nil
	})
}

func (s *Store) Count(prefix string) int {
	count := 0
	s.Scan(prefix, 0, 0, func(string, []byte) {
		count++
	})
	return count
}

func (s *Store) Close() error {
	s.Lock()
	defer s.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
