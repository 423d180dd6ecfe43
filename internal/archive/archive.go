// Package archive records finished scans in a local bbolt database so the
// CLI can show earlier results for a target without contacting the backend.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/raysh454/capwatch/internal/model"
)

const (
	bucketScans     = "scans"
	bucketScanIndex = "scan_index"
)

var ErrMissingJobID = errors.New("scan record has no job id")

// ScanRecord is a finished scan as it was last observed locally.
type ScanRecord struct {
	JobID      string           `json:"job_id"`
	Capability model.Capability `json:"capability"`
	Target     string           `json:"target"`
	Status     model.JobStatus  `json:"status"`
	Error      string           `json:"error,omitempty"`
	Findings   []model.Finding  `json:"findings"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Store wraps a bbolt database of scan records.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database at path, creating parent directories.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketScans)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(bucketScanIndex))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores rec and indexes it under its target. Saving the same job
// again overwrites the earlier record.
func (s *Store) Save(rec *ScanRecord) error {
	if rec == nil || rec.JobID == "" {
		return ErrMissingJobID
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(bucketScans)).Put([]byte(rec.JobID), data); err != nil {
			return err
		}

		index := tx.Bucket([]byte(bucketScanIndex))
		key := []byte(rec.Target)
		var ids []string
		if existing := index.Get(key); existing != nil {
			if err := json.Unmarshal(existing, &ids); err != nil {
				return err
			}
		}
		for _, id := range ids {
			if id == rec.JobID {
				return nil
			}
		}
		ids = append(ids, rec.JobID)
		indexData, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		return index.Put(key, indexData)
	})
}

// Get returns the record for jobID, or nil if there is none.
func (s *Store) Get(jobID string) (*ScanRecord, error) {
	var rec *ScanRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketScans)).Get([]byte(jobID))
		if data == nil {
			return nil
		}
		rec = &ScanRecord{}
		return json.Unmarshal(data, rec)
	})
	return rec, err
}

// List returns the records for target, newest first. An empty target lists
// every record.
func (s *Store) List(target string) ([]*ScanRecord, error) {
	var recs []*ScanRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		scans := tx.Bucket([]byte(bucketScans))
		if target == "" {
			return scans.ForEach(func(_, v []byte) error {
				var rec ScanRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return err
				}
				recs = append(recs, &rec)
				return nil
			})
		}

		data := tx.Bucket([]byte(bucketScanIndex)).Get([]byte(target))
		if data == nil {
			return nil
		}
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return err
		}
		for _, id := range ids {
			v := scans.Get([]byte(id))
			if v == nil {
				continue
			}
			var rec ScanRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].FinishedAt.After(recs[j].FinishedAt)
	})
	return recs, nil
}

// Latest returns the most recent record for target, or nil.
func (s *Store) Latest(target string) (*ScanRecord, error) {
	recs, err := s.List(target)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}
