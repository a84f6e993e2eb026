package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketTasks   = []byte("tasks")
	bucketEpics   = []byte("epics")
	bucketRuns    = []byte("runs")
	bucketReviews = []byte("reviews")
	bucketMeta    = []byte("meta")
)

// Store is Fuel's single-writer persistent store. All mutations are
// transactional; all reads observe a consistent snapshot.
type Store struct {
	db      *bolt.DB
	counter atomic.Uint64
}

// Open opens (creating if necessary) the bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTasks, bucketEpics, bucketRuns, bucketReviews, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	_ = db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMeta).Get([]byte("counter"))
		if len(c) == 8 {
			s.counter.Store(beUint64(c))
		}
		return nil
	})
	return s, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func beBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func (s *Store) nextCounter(tx *bolt.Tx) uint64 {
	n := s.counter.Add(1)
	_ = tx.Bucket(bucketMeta).Put([]byte("counter"), beBytes(n))
	return n
}

// shortID hashes (prefix, title, counter) and truncates to 6 hex chars,
// retrying the counter on collision against the supplied exists check.
func shortID(prefix, title string, counter uint64, exists func(string) bool) string {
	for {
		h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", title, counter)))
		id := prefix + "-" + hex.EncodeToString(h[:])[:6]
		if !exists(id) {
			return id
		}
		counter++
	}
}

// --- Task operations -------------------------------------------------------

// Create assigns a new id to task and persists it.
func (s *Store) Create(task Task) (Task, error) {
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Type == "" {
		task.Type = TypeTask
	}
	if task.Complexity == "" {
		task.Complexity = ComplexitySimple
	}
	if task.Status == "" {
		task.Status = StatusOpen
	}

	if !validPriority(task.Priority) {
		return Task{}, fmt.Errorf("priority %d out of range: %w", task.Priority, ErrIllegalTransition)
	}
	if !task.Type.valid() {
		return Task{}, fmt.Errorf("type %q: %w", task.Type, ErrInvalidEnum)
	}
	if !task.Complexity.valid() {
		return Task{}, fmt.Errorf("complexity %q: %w", task.Complexity, ErrInvalidEnum)
	}
	if !task.Size.valid() {
		return Task{}, fmt.Errorf("size %q: %w", task.Size, ErrInvalidEnum)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		counter := s.nextCounter(tx)
		task.ID = shortID("f", task.Title, counter, func(id string) bool {
			return b.Get([]byte(id)) != nil
		})
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return b.Put([]byte(task.ID), data)
	})
	return task, err
}

// Find resolves id_or_prefix to a unique task. A prefix with 2 or fewer
// characters after the optional "f-" tag is rejected as ambiguous even on a
// single match, per the boundary rule.
func (s *Store) Find(idOrPrefix string) (Task, error) {
	var result Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		if data := b.Get([]byte(idOrPrefix)); data != nil {
			return json.Unmarshal(data, &result)
		}

		suffix := strings.TrimPrefix(idOrPrefix, "f-")
		if len(suffix) <= 2 {
			return ErrAmbiguousID
		}

		var matches []Task
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			id := string(k)
			if strings.HasPrefix(strings.TrimPrefix(id, "f-"), suffix) {
				var t Task
				if err := json.Unmarshal(v, &t); err != nil {
					return err
				}
				matches = append(matches, t)
			}
		}
		switch len(matches) {
		case 0:
			return ErrNotFound
		case 1:
			result = matches[0]
			return nil
		default:
			return ErrAmbiguousID
		}
	})
	return result, err
}

func (s *Store) getTaskTx(tx *bolt.Tx, id string) (Task, error) {
	var t Task
	data := tx.Bucket(bucketTasks).Get([]byte(id))
	if data == nil {
		return t, ErrNotFound
	}
	return t, json.Unmarshal(data, &t)
}

func (s *Store) putTaskTx(tx *bolt.Tx, t Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketTasks).Put([]byte(t.ID), data)
}

// Patch carries the updatable task fields; a nil pointer means "leave as is".
// Empty-string pointers (e.g. description: ptr("")) clear the field.
type Patch struct {
	Title       *string
	Description *string
	Type        *TaskType
	Priority    *int
	Complexity  *Complexity
	Size        *Size
	Labels      *[]string
	EpicID      *string
}

// Update applies patch atomically, recording updated_at.
func (s *Store) Update(id string, patch Patch) (Task, error) {
	if patch == (Patch{}) {
		return Task{}, ErrEmptyPatch
	}
	var result Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		t, err := s.getTaskTx(tx, id)
		if err != nil {
			return err
		}
		if patch.Title != nil {
			t.Title = *patch.Title
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.Type != nil {
			if !patch.Type.valid() {
				return fmt.Errorf("type %q: %w", *patch.Type, ErrInvalidEnum)
			}
			t.Type = *patch.Type
		}
		if patch.Priority != nil {
			if !validPriority(*patch.Priority) {
				return fmt.Errorf("priority %d out of range: %w", *patch.Priority, ErrIllegalTransition)
			}
			t.Priority = *patch.Priority
		}
		if patch.Complexity != nil {
			if !patch.Complexity.valid() {
				return fmt.Errorf("complexity %q: %w", *patch.Complexity, ErrInvalidEnum)
			}
			t.Complexity = *patch.Complexity
		}
		if patch.Size != nil {
			if !patch.Size.valid() {
				return fmt.Errorf("size %q: %w", *patch.Size, ErrInvalidEnum)
			}
			t.Size = *patch.Size
		}
		if patch.Labels != nil {
			t.Labels = *patch.Labels
		}
		if patch.EpicID != nil {
			t.EpicID = *patch.EpicID
		}
		t.UpdatedAt = time.Now()
		result = t
		return s.putTaskTx(tx, t)
	})
	return result, err
}

// Delete removes a task, cascading into other tasks' blocked_by sets and
// into its runs/reviews.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		tb := tx.Bucket(bucketTasks)
		if tb.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		if err := tb.Delete([]byte(id)); err != nil {
			return err
		}

		c := tb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var t Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if removeFromSet(&t.BlockedBy, id) {
				t.UpdatedAt = time.Now()
				if err := s.putTaskTx(tx, t); err != nil {
					return err
				}
			}
		}

		rb := tx.Bucket(bucketRuns)
		if err := deleteByTaskID(rb, id, func(v []byte) (string, error) {
			var r Run
			if err := json.Unmarshal(v, &r); err != nil {
				return "", err
			}
			return r.TaskID, nil
		}); err != nil {
			return err
		}

		vb := tx.Bucket(bucketReviews)
		return deleteByTaskID(vb, id, func(v []byte) (string, error) {
			var r Review
			if err := json.Unmarshal(v, &r); err != nil {
				return "", err
			}
			return r.TaskID, nil
		})
	})
}

func deleteByTaskID(b *bolt.Bucket, taskID string, taskIDOf func([]byte) (string, error)) error {
	var toDelete [][]byte
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		tid, err := taskIDOf(v)
		if err != nil {
			return err
		}
		if tid == taskID {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
	}
	for _, k := range toDelete {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func removeFromSet(set *[]string, value string) bool {
	out := (*set)[:0]
	removed := false
	for _, v := range *set {
		if v == value {
			removed = true
			continue
		}
		out = append(out, v)
	}
	*set = out
	return removed
}

func containsStr(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// AddDependency inserts the edge "from is blocked by to". Rejects cycles.
func (s *Store) AddDependency(from, to string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		ft, err := s.getTaskTx(tx, from)
		if err != nil {
			return err
		}
		if _, err := s.getTaskTx(tx, to); err != nil {
			return err
		}
		if containsStr(ft.BlockedBy, to) {
			return nil
		}
		if s.transitivelyBlocks(tx, to, from, map[string]bool{}) {
			return ErrCyclicDependency
		}
		ft.BlockedBy = append(ft.BlockedBy, to)
		ft.UpdatedAt = time.Now()
		return s.putTaskTx(tx, ft)
	})
}

// transitivelyBlocks reports whether node ultimately depends on target,
// i.e. whether adding target as a new blocker of node would cycle back.
func (s *Store) transitivelyBlocks(tx *bolt.Tx, node, target string, seen map[string]bool) bool {
	if node == target {
		return true
	}
	if seen[node] {
		return false
	}
	seen[node] = true
	t, err := s.getTaskTx(tx, node)
	if err != nil {
		return false
	}
	for _, b := range t.BlockedBy {
		if s.transitivelyBlocks(tx, b, target, seen) {
			return true
		}
	}
	return false
}

// RemoveDependency removes the edge; idempotent. notFoundIfMissing controls
// whether a missing edge returns ErrNoSuchDependency (CLI wrapper request).
func (s *Store) RemoveDependency(from, to string, notFoundIfMissing bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		ft, err := s.getTaskTx(tx, from)
		if err != nil {
			return err
		}
		removed := removeFromSet(&ft.BlockedBy, to)
		if !removed {
			if notFoundIfMissing {
				return ErrNoSuchDependency
			}
			return nil
		}
		ft.UpdatedAt = time.Now()
		return s.putTaskTx(tx, ft)
	})
}

func isClosed(t Task) bool { return t.Status == StatusClosed }

// Ready returns open tasks whose every blocker is closed, ordered by
// priority descending then created_at ascending.
func (s *Store) Ready() ([]Task, error) {
	var out []Task
	err := s.db.View(func(tx *bolt.Tx) error {
		all, err := allTasksTx(tx)
		if err != nil {
			return err
		}
		index := map[string]Task{}
		for _, t := range all {
			index[t.ID] = t
		}
		for _, t := range all {
			if t.Status != StatusOpen {
				continue
			}
			if isReadyGiven(t, index) {
				out = append(out, t)
			}
		}
		return nil
	})
	sortByPriorityThenAge(out)
	return out, err
}

func isReadyGiven(t Task, index map[string]Task) bool {
	for _, b := range t.BlockedBy {
		blocker, ok := index[b]
		if !ok {
			continue // dangling blocker reference treated as satisfied
		}
		if !isClosed(blocker) {
			return false
		}
	}
	return true
}

// Blocked returns open tasks with at least one non-closed blocker.
func (s *Store) Blocked() ([]Task, error) {
	var out []Task
	err := s.db.View(func(tx *bolt.Tx) error {
		all, err := allTasksTx(tx)
		if err != nil {
			return err
		}
		index := map[string]Task{}
		for _, t := range all {
			index[t.ID] = t
		}
		for _, t := range all {
			if t.Status != StatusOpen {
				continue
			}
			if !isReadyGiven(t, index) {
				out = append(out, t)
			}
		}
		return nil
	})
	sortByPriorityThenAge(out)
	return out, err
}

func sortByPriorityThenAge(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

func allTasksTx(tx *bolt.Tx) ([]Task, error) {
	var out []Task
	b := tx.Bucket(bucketTasks)
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var t Task
		if err := json.Unmarshal(v, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Filter selects tasks by status/type/priority/labels(any-match)/size. A
// zero-valued field in the filter is treated as "don't filter on this".
type Filter struct {
	Status   Status
	Type     TaskType
	Priority *int
	Labels   []string
	Size     Size
}

func (f Filter) matches(t Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Priority != nil && t.Priority != *f.Priority {
		return false
	}
	if f.Size != "" && t.Size != f.Size {
		return false
	}
	if len(f.Labels) > 0 {
		any := false
		for _, l := range f.Labels {
			if t.HasLabel(l) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	return true
}

// All returns every task matching filter, excluding someday tasks unless
// the filter explicitly asks for them.
func (s *Store) All(filter Filter) ([]Task, error) {
	var out []Task
	err := s.db.View(func(tx *bolt.Tx) error {
		all, err := allTasksTx(tx)
		if err != nil {
			return err
		}
		for _, t := range all {
			if t.Status == StatusSomeday && filter.Status != StatusSomeday {
				continue
			}
			if filter.matches(t) {
				out = append(out, t)
			}
		}
		return nil
	})
	sortByPriorityThenAge(out)
	return out, err
}

// Start transitions open -> in_progress.
func (s *Store) Start(id string) (Task, error) {
	var result Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		t, err := s.getTaskTx(tx, id)
		if err != nil {
			return err
		}
		if t.Status != StatusOpen {
			return fmt.Errorf("task %s is %s, not open: %w", id, t.Status, ErrIllegalTransition)
		}
		t.Status = StatusInProgress
		t.UpdatedAt = time.Now()
		result = t
		return s.putTaskTx(tx, t)
	})
	return result, err
}

// Done transitions any status -> closed, recording reason/commit.
func (s *Store) Done(id string, reason, commitHash string) (Task, error) {
	var result Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		t, err := s.getTaskTx(tx, id)
		if err != nil {
			return err
		}
		t.Status = StatusClosed
		if reason != "" {
			t.Reason = reason
		}
		if commitHash != "" {
			t.CommitHash = commitHash
		}
		t.UpdatedAt = time.Now()
		result = t
		return s.putTaskTx(tx, t)
	})
	return result, err
}

// Reopen moves {closed,in_progress,review} -> open, clearing reason,
// commit_hash, and all consumed_* fields.
func (s *Store) Reopen(id string) (Task, error) {
	var result Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		t, err := s.getTaskTx(tx, id)
		if err != nil {
			return err
		}
		switch t.Status {
		case StatusClosed, StatusInProgress, StatusReview:
		default:
			return fmt.Errorf("task %s is %s, cannot reopen: %w", id, t.Status, ErrIllegalTransition)
		}
		t.Status = StatusOpen
		clearConsumed(&t)
		t.UpdatedAt = time.Now()
		result = t
		return s.putTaskTx(tx, t)
	})
	return result, err
}

func clearConsumed(t *Task) {
	t.Reason = ""
	t.CommitHash = ""
	t.Consumed = false
	t.ConsumedAt = nil
	t.ConsumedExitCode = nil
	t.ConsumedOutput = ""
}

// Retry clears consumed_* and reopens a task only if it is in_progress and
// consumed.
func (s *Store) Retry(id string) (Task, error) {
	var result Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		t, err := s.getTaskTx(tx, id)
		if err != nil {
			return err
		}
		if t.Status != StatusInProgress || !t.Consumed {
			return fmt.Errorf("task %s not eligible for retry: %w", id, ErrIllegalTransition)
		}
		clearConsumed(&t)
		t.Status = StatusOpen
		t.UpdatedAt = time.Now()
		result = t
		return s.putTaskTx(tx, t)
	})
	return result, err
}

// MarkConsumed records that an agent process ended non-cleanly against id.
func (s *Store) MarkConsumed(id string, exitCode int, output string) (Task, error) {
	var result Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		t, err := s.getTaskTx(tx, id)
		if err != nil {
			return err
		}
		now := time.Now()
		t.Consumed = true
		t.ConsumedAt = &now
		t.ConsumedExitCode = &exitCode
		t.ConsumedOutput = output
		t.UpdatedAt = now
		result = t
		return s.putTaskTx(tx, t)
	})
	return result, err
}

// SetConsumePID records the pid of the live child working id.
func (s *Store) SetConsumePID(id string, pid int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		t, err := s.getTaskTx(tx, id)
		if err != nil {
			return err
		}
		t.ConsumePID = pid
		t.UpdatedAt = time.Now()
		return s.putTaskTx(tx, t)
	})
}

// SetStatus forcibly sets status (used by Completion Handler for review
// transitions, which are not a named public operation but an internal one).
func (s *Store) SetStatus(id string, status Status) (Task, error) {
	var result Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		t, err := s.getTaskTx(tx, id)
		if err != nil {
			return err
		}
		t.Status = status
		t.UpdatedAt = time.Now()
		result = t
		return s.putTaskTx(tx, t)
	})
	return result, err
}

// Archive removes closed tasks whose updated_at predates the cutoff (days
// ago), or every closed task if all is true. Returns the removed set.
func (s *Store) Archive(days int, all bool) ([]Task, error) {
	var removed []Task
	cutoff := time.Now().AddDate(0, 0, -days)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		tasks, err := allTasksTx(tx)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if t.Status != StatusClosed {
				continue
			}
			if !all && t.UpdatedAt.After(cutoff) {
				continue
			}
			if err := b.Delete([]byte(t.ID)); err != nil {
				return err
			}
			removed = append(removed, t)
		}
		return nil
	})
	return removed, err
}
