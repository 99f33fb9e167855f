package api

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MJE43/eden-env/internal/bridge"
	"github.com/MJE43/eden-env/internal/game"
	"github.com/MJE43/eden-env/internal/store"
)

var errOpen = errors.New("open engine")

// session is one open engine. Its mutex serializes every call into the
// engine, so concurrent requests against one env run one at a time.
type session struct {
	mu       sync.Mutex
	id       string
	kind     string
	config   string
	created  time.Time
	game     game.Game
	env      *bridge.Env
	calls    int
	recorder *store.Recorder
	closed   bool
}

func (s *session) info() EnvInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := EnvInfo{ID: s.id, Kind: s.kind, Config: s.config, CreatedAt: s.created, Calls: s.calls}
	if s.recorder != nil {
		info.EpisodeID = s.recorder.EpisodeID()
	}
	return info
}

// locked runs fn holding the session lock. A session closed while the caller
// waited reports not found.
func (s *session) locked(fn func(*session) (any, error)) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: %q", errSessionNotFound, s.id)
	}
	return fn(s)
}

// closeLocked flushes the recording and closes the engine. Caller holds mu.
func (s *session) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if s.recorder != nil {
		errs = append(errs, s.recorder.Close())
		s.recorder = nil
	}
	errs = append(errs, game.Close(s.game))
	return errors.Join(errs...)
}

type sessions struct {
	mu   sync.RWMutex
	byID map[string]*session
}

func newSessions() *sessions {
	return &sessions{byID: make(map[string]*session)}
}

func (ss *sessions) open(open func(kind, config string) (game.Game, error), kind, config string, opts []bridge.Option) (*session, error) {
	g, err := open(kind, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errOpen, err)
	}
	s := &session{
		id:      uuid.NewString(),
		kind:    kind,
		config:  config,
		created: time.Now().UTC(),
		game:    g,
		env:     bridge.New(g, opts...),
	}
	ss.mu.Lock()
	ss.byID[s.id] = s
	ss.mu.Unlock()
	return s, nil
}

func (ss *sessions) get(id string) (*session, error) {
	ss.mu.RLock()
	s, ok := ss.byID[id]
	ss.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", errSessionNotFound, id)
	}
	return s, nil
}

// remove unregisters the session and returns it for closing.
func (ss *sessions) remove(id string) (*session, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errSessionNotFound, id)
	}
	delete(ss.byID, id)
	return s, nil
}

func (ss *sessions) list() []*session {
	ss.mu.RLock()
	out := make([]*session, 0, len(ss.byID))
	for _, s := range ss.byID {
		out = append(out, s)
	}
	ss.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].created.Equal(out[j].created) {
			return out[i].id < out[j].id
		}
		return out[i].created.Before(out[j].created)
	})
	return out
}

func (ss *sessions) len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.byID)
}

// drain removes and returns every session.
func (ss *sessions) drain() []*session {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	out := make([]*session, 0, len(ss.byID))
	for id, s := range ss.byID {
		out = append(out, s)
		delete(ss.byID, id)
	}
	return out
}
