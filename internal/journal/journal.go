// Package journal implements the warm-restart journal of spec.md §6:
// a durable key-value projection of each shadow route's bucket array,
// keyed by prefix string, with one field per bucket index. The
// manager writes a journal entry alongside every bucket's HAL write
// and purges a prefix's record on group teardown; on warm restart it
// reads every record back into a recovery map used to pre-seed the
// initial spray.
//
// Grounded on cuemby-warren's pkg/storage/boltdb.go (one bolt bucket
// per entity kind, JSON-encoded values, Update/View closures).
package journal

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/sonic-net/fgnhgorch/internal/types"
)

var routesBucket = []byte("fg_routes")

// Record is one prefix's durable bucket image: bucket index -> the
// next-hop key occupying it, as recorded at the time of the write.
type Record map[int]types.NextHopKey

// Journal is the durable-state contract the shadow table writes
// through. The shadow table calls WriteBucket after each successful
// HAL bucket write and DeleteRoute when a route's HAL group is torn
// down or collapses to RIF (spec.md §5 "(shadow, HAL, journal) is the
// unit of consistency"). A failed journal write is logged by the
// shadow table and does not undo the HAL write.
type Journal interface {
	// WriteBucket durably records that prefix's bucket index is now
	// owned by nh.
	WriteBucket(prefix string, index int, nh types.NextHopKey) error
	// DeleteRoute purges every record for prefix (group teardown or
	// RIF collapse).
	DeleteRoute(prefix string) error
	// Recover reads every durable record back, for warm-restart
	// pre-seeding.
	Recover() (map[string]Record, error)
	Close() error
}

// recordEntry is the JSON wire shape of one bucket of a Record (a
// prefix's value is a JSON list of them); net/netip types already marshal
// through their own TextMarshaler, so NextHopKey round-trips exactly.
type recordEntry struct {
	Index int             `json:"index"`
	NH    types.NextHopKey `json:"next_hop"`
}

// BoltJournal is the production Journal, one bbolt file per process.
type BoltJournal struct {
	db *bolt.DB
}

// NewBoltJournal opens (creating if absent) the journal database at
// path.
func NewBoltJournal(path string) (*BoltJournal, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(routesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal bucket: %w", err)
	}
	return &BoltJournal{db: db}, nil
}

func (j *BoltJournal) WriteBucket(prefix string, index int, nh types.NextHopKey) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(routesBucket)
		rec, err := loadRecord(b, prefix)
		if err != nil {
			return err
		}
		if rec == nil {
			rec = Record{}
		}
		rec[index] = nh
		return storeRecord(b, prefix, rec)
	})
}

func (j *BoltJournal) DeleteRoute(prefix string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(routesBucket).Delete([]byte(prefix))
	})
}

func (j *BoltJournal) Recover() (map[string]Record, error) {
	out := make(map[string]Record)
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(routesBucket)
		return b.ForEach(func(k, v []byte) error {
			var entries []recordEntry
			if err := json.Unmarshal(v, &entries); err != nil {
				return err
			}
			rec := make(Record, len(entries))
			for _, e := range entries {
				rec[e.Index] = e.NH
			}
			out[string(k)] = rec
			return nil
		})
	})
	return out, err
}

func (j *BoltJournal) Close() error { return j.db.Close() }

func loadRecord(b *bolt.Bucket, prefix string) (Record, error) {
	data := b.Get([]byte(prefix))
	if data == nil {
		return nil, nil
	}
	var entries []recordEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	rec := make(Record, len(entries))
	for _, e := range entries {
		rec[e.Index] = e.NH
	}
	return rec, nil
}

func storeRecord(b *bolt.Bucket, prefix string, rec Record) error {
	entries := make([]recordEntry, 0, len(rec))
	for idx, nh := range rec {
		entries = append(entries, recordEntry{Index: idx, NH: nh})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return b.Put([]byte(prefix), data)
}
