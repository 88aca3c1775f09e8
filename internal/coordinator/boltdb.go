package coordinator

import (
	"context"
	"fmt"
	"path/filepath"

	json "github.com/nikkolasg/hexjson"
	bolt "go.etcd.io/bbolt"

	"github.com/drand/ceremony/ceremony"
	"github.com/drand/ceremony/common/log"
)

// BoltFileName is the name of the file boltdb writes to
const BoltFileName = "ceremony.db"

// BoltStoreOpenPerm is the permission we will use to read bolt store file from disk
const BoltStoreOpenPerm = 0660

var (
	contributionBucket = []byte("contributions")
	infoBucket         = []byte("contribution_infos")
)

// BoltStore implements Store on top of boltdb. Records are stored JSON
// encoded.
type BoltStore struct {
	db  *bolt.DB
	log log.Logger
}

// NewBoltStore opens, or creates, the store in folder.
func NewBoltStore(l log.Logger, folder string, opts *bolt.Options) (*BoltStore, error) {
	dbPath := filepath.Join(folder, BoltFileName)
	db, err := bolt.Open(dbPath, BoltStoreOpenPerm, opts)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{contributionBucket, infoBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db, log: l}, nil
}

func (b *BoltStore) put(ctx context.Context, bucket, key []byte, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, value)
	})
}

func (b *BoltStore) PutContribution(ctx context.Context, r *Record) error {
	return b.put(ctx, contributionBucket, recordKey(r), r)
}

func (b *BoltStore) Contribution(ctx context.Context, round, chunk, contribution uint64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var r *Record
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(contributionBucket).Get(contributionKey(round, chunk, contribution))
		if v == nil {
			return ErrNotFound
		}
		r = new(Record)
		return json.Unmarshal(v, r)
	})
	return r, err
}

func (b *BoltStore) Contributions(ctx context.Context) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*Record
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(contributionBucket).ForEach(func(k, v []byte) error {
			r := new(Record)
			if err := json.Unmarshal(v, r); err != nil {
				return fmt.Errorf("decoding contribution %x: %w", k, err)
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

func (b *BoltStore) PutInfo(ctx context.Context, info *ceremony.ContributionInfo) error {
	return b.put(ctx, infoBucket, infoKey(info), info)
}

func (b *BoltStore) Infos(ctx context.Context) ([]*ceremony.ContributionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*ceremony.ContributionInfo
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(infoBucket).ForEach(func(k, v []byte) error {
			info := new(ceremony.ContributionInfo)
			if err := json.Unmarshal(v, info); err != nil {
				return fmt.Errorf("decoding contribution info %x: %w", k, err)
			}
			out = append(out, info)
			return nil
		})
	})
	return out, err
}

func (b *BoltStore) Close() error {
	err := b.db.Close()
	if err != nil {
		b.log.Errorw("", "boltdb", "close", "err", err)
	}
	return err
}
