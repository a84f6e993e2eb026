package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// CreateRun persists a new Run, assigning its run-XXXXXX id.
func (s *Store) CreateRun(run Run) (Run, error) {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		counter := s.nextCounter(tx)
		run.ID = shortID("run", run.TaskID, counter, func(id string) bool {
			return b.Get([]byte(id)) != nil
		})
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return b.Put([]byte(run.ID), data)
	})
	return run, err
}

// UpdateRun overwrites a run record in place (it must already exist).
func (s *Store) UpdateRun(run Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b.Get([]byte(run.ID)) == nil {
			return ErrNotFound
		}
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return b.Put([]byte(run.ID), data)
	})
}

// GetRun fetches a run by id.
func (s *Store) GetRun(id string) (Run, error) {
	var r Run
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &r)
	})
	return r, err
}

// RunsForTask returns all runs recorded against a task, most recent first.
func (s *Store) RunsForTask(taskID string) ([]Run, error) {
	var out []Run
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r Run
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.TaskID == taskID {
				out = append(out, r)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, err
}

// LatestRunForTask returns the most recently started run for a task, if any.
func (s *Store) LatestRunForTask(taskID string) (Run, bool, error) {
	runs, err := s.RunsForTask(taskID)
	if err != nil || len(runs) == 0 {
		return Run{}, false, err
	}
	latest := runs[0]
	for _, r := range runs[1:] {
		if r.StartedAt.After(latest.StartedAt) {
			latest = r
		}
	}
	return latest, true, nil
}

// --- Review operations -------------------------------------------------------

// CreateReview persists a new pending Review, assigning its r-XXXXXX id.
func (s *Store) CreateReview(rev Review) (Review, error) {
	if rev.StartedAt.IsZero() {
		rev.StartedAt = time.Now()
	}
	if rev.Status == "" {
		rev.Status = ReviewPending
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReviews)
		counter := s.nextCounter(tx)
		rev.ID = shortID("r", rev.TaskID, counter, func(id string) bool {
			return b.Get([]byte(id)) != nil
		})
		data, err := json.Marshal(rev)
		if err != nil {
			return err
		}
		return b.Put([]byte(rev.ID), data)
	})
	return rev, err
}

// UpdateReview overwrites a review record in place.
func (s *Store) UpdateReview(rev Review) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReviews)
		if b.Get([]byte(rev.ID)) == nil {
			return ErrNotFound
		}
		data, err := json.Marshal(rev)
		if err != nil {
			return err
		}
		return b.Put([]byte(rev.ID), data)
	})
}

// ReviewsForTask returns all reviews recorded against a task.
func (s *Store) ReviewsForTask(taskID string) ([]Review, error) {
	var out []Review
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReviews)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r Review
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.TaskID == taskID {
				out = append(out, r)
			}
		}
		return nil
	})
	return out, err
}

// --- Epic operations -------------------------------------------------------

// CreateEpic persists a new epic with status planning.
func (s *Store) CreateEpic(epic Epic) (Epic, error) {
	now := time.Now()
	epic.CreatedAt = now
	epic.UpdatedAt = now
	if epic.Status == "" {
		epic.Status = EpicPlanning
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEpics)
		counter := s.nextCounter(tx)
		epic.ID = shortID("e", epic.Title, counter, func(id string) bool {
			return b.Get([]byte(id)) != nil
		})
		data, err := json.Marshal(epic)
		if err != nil {
			return err
		}
		return b.Put([]byte(epic.ID), data)
	})
	return epic, err
}

// GetEpic returns an epic with its status freshly derived from linked tasks,
// unless it has been explicitly overridden.
func (s *Store) GetEpic(id string) (Epic, error) {
	var epic Epic
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEpics).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(data, &epic); err != nil {
			return err
		}
		// Overridden is not serialized; a stored override status implies it.
		switch epic.Status {
		case EpicApproved, EpicReviewed, EpicRejected:
			epic.Overridden = true
		}
		if !epic.Overridden {
			tasks, err := allTasksTx(tx)
			if err != nil {
				return err
			}
			epic.Status = deriveEpicStatus(id, tasks)
		}
		return nil
	})
	return epic, err
}

func deriveEpicStatus(epicID string, tasks []Task) EpicStatus {
	var linked []Task
	for _, t := range tasks {
		if t.EpicID == epicID {
			linked = append(linked, t)
		}
	}
	if len(linked) == 0 {
		return EpicPlanning
	}
	for _, t := range linked {
		if t.Status != StatusClosed {
			return EpicInProgress
		}
	}
	return EpicReviewPending
}

// TransitionEpic applies an explicit approve/reviewed/reject override,
// which subsequently pins the status instead of deriving it.
func (s *Store) TransitionEpic(id string, status EpicStatus) (Epic, error) {
	var result Epic
	err := s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEpics).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var epic Epic
		if err := json.Unmarshal(data, &epic); err != nil {
			return err
		}
		switch status {
		case EpicApproved, EpicReviewed, EpicRejected:
		default:
			return fmt.Errorf("not a valid override status %q: %w", status, ErrIllegalTransition)
		}
		epic.Status = status
		epic.Overridden = true
		epic.UpdatedAt = time.Now()
		result = epic
		out, err := json.Marshal(epic)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEpics).Put([]byte(id), out)
	})
	return result, err
}

// DeleteEpic removes the epic; linked tasks become orphaned (epic_id left
// dangling, not cleared).
func (s *Store) DeleteEpic(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEpics)
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}
