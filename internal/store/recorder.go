package store

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// Recorder buffers the steps of one episode and writes them in batches.
type Recorder struct {
	store     *Store
	episodeID string
	logger    *log.Logger

	mu        sync.Mutex
	buffer    []Step
	step      int
	flushSize int
	closed    bool
	ended     bool
}

// NewRecorder creates a recorder for the given episode. flushSize controls how
// many steps are buffered before a batch insert.
func NewRecorder(store *Store, episodeID string, flushSize int, logger *log.Logger) *Recorder {
	if flushSize <= 0 {
		flushSize = 50
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Recorder{
		store:     store,
		episodeID: episodeID,
		logger:    logger,
		buffer:    make([]Step, 0, flushSize),
		flushSize: flushSize,
	}
}

// EpisodeID returns the episode this recorder writes to.
func (r *Recorder) EpisodeID() string { return r.episodeID }

// Record appends one step. Values are marshalled immediately so later
// mutation by the caller does not change what is stored.
func (r *Recorder) Record(action, observation, result any) error {
	var st Step
	var err error
	if st.Action, err = json.Marshal(action); err != nil {
		return fmt.Errorf("store: marshal action: %w", err)
	}
	if st.Observation, err = json.Marshal(observation); err != nil {
		return fmt.Errorf("store: marshal observation: %w", err)
	}
	if st.Result, err = json.Marshal(result); err != nil {
		return fmt.Errorf("store: marshal result: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("store: recorder for episode %s is closed", r.episodeID)
	}
	r.step++
	st.EpisodeID = r.episodeID
	st.Step = r.step
	r.buffer = append(r.buffer, st)

	if len(r.buffer) >= r.flushSize {
		return r.flushLocked()
	}
	return nil
}

// Flush persists any buffered steps.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

// Close flushes and ends the episode. Further Record calls fail. If the flush
// or the end fails, the buffered steps are kept and Close may be retried.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.ended {
		return nil
	}
	if err := r.flushLocked(); err != nil {
		return err
	}
	if err := r.store.EndEpisode(r.episodeID); err != nil {
		return err
	}
	r.ended = true
	return nil
}

// Pending returns the number of steps not yet written.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

// flushLocked writes the buffer in one batch and clears it only once the
// insert succeeded.
func (r *Recorder) flushLocked() error {
	if len(r.buffer) == 0 {
		return nil
	}
	if err := r.store.InsertSteps(r.episodeID, r.buffer); err != nil {
		r.logger.Printf("flush failed episode=%s steps=%d err=%v", r.episodeID, len(r.buffer), err)
		return err
	}
	r.buffer = r.buffer[:0]
	return nil
}
