package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MJE43/eden-env/internal/bridge"
	"github.com/MJE43/eden-env/internal/nested"
	"github.com/MJE43/eden-env/internal/store"
)

const recordFlushSize = 64

func (s *Server) handleCreateEnv(w http.ResponseWriter, r *http.Request) {
	var req CreateEnvRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Config) == "" {
		s.errorHandler.HandleValidationError(w, r, "config", "config is required")
		return
	}
	if req.Kind == "" {
		req.Kind = s.defaultKind
	}

	sess, err := s.sessions.open(s.open, req.Kind, req.Config, s.bridgeOpts)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.metrics.EnvOpened()

	count, err := sess.locked(func(sess *session) (any, error) {
		return s.call(sess, bridge.OpAgentCount, func() (any, error) { return sess.env.AgentCount() })
	})
	if err != nil {
		s.closeSession(sess.id)
		s.errorHandler.HandleError(w, r, err)
		return
	}

	s.logger.Printf("env_opened id=%s kind=%s config=%q", sess.id, sess.kind, sess.config)
	s.writeJSON(w, http.StatusCreated, CreateEnvResponse{
		ID:         sess.id,
		Kind:       sess.kind,
		Config:     sess.config,
		AgentCount: count.([]any),
	})
}

func (s *Server) handleListEnvs(w http.ResponseWriter, r *http.Request) {
	all := s.sessions.list()
	resp := ListEnvsResponse{Envs: make([]EnvInfo, 0, len(all))}
	for _, sess := range all {
		resp.Envs = append(resp.Envs, sess.info())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteEnv(w http.ResponseWriter, r *http.Request) {
	if err := s.closeSession(chi.URLParam(r, "id")); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) closeSession(id string) error {
	sess, err := s.sessions.remove(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.closed {
		s.metrics.EnvClosed()
	}
	if err := sess.closeLocked(); err != nil {
		s.logger.Printf("env_close_failed id=%s err=%v", id, err)
	}
	s.logger.Printf("env_closed id=%s calls=%d", id, sess.calls)
	return nil
}

// withSession runs fn holding the session's lock.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, fn func(*session) (any, error)) {
	sess, err := s.sessions.get(chi.URLParam(r, "id"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	resp, err := sess.locked(fn)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// call runs one boundary operation and records its metrics. Caller holds the
// session lock.
func (s *Server) call(sess *session, op string, fn func() (any, error)) (any, error) {
	start := time.Now()
	out, err := fn()
	s.metrics.ObserveCall(op, start, err)
	sess.calls++
	return out, err
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.withSession(w, r, func(sess *session) (any, error) {
		if _, err := s.call(sess, bridge.OpReset, func() (any, error) { return nil, sess.env.Reset(req.Seed) }); err != nil {
			return nil, err
		}
		resp := StatusResponse{Status: "ok"}
		if s.store != nil {
			resp.EpisodeID = s.startEpisode(sess, req.Seed)
		}
		return resp, nil
	})
}

// startEpisode ends the session's current recording and opens a new one.
// Recording failures are logged, never returned: the engine call succeeded.
func (s *Server) startEpisode(sess *session, seed any) string {
	if sess.recorder != nil {
		if err := sess.recorder.Close(); err != nil {
			s.logger.Printf("episode_close_failed env=%s episode=%s err=%v", sess.id, sess.recorder.EpisodeID(), err)
		}
		sess.recorder = nil
	}
	n, err := nested.ScalarOf[int64](seed)
	if err != nil {
		s.logger.Printf("episode_seed_invalid env=%s err=%v", sess.id, err)
		return ""
	}
	id, err := s.store.CreateEpisode(&store.Episode{EnvID: sess.id, Kind: sess.kind, Config: sess.config, Seed: n})
	if err != nil {
		s.logger.Printf("episode_create_failed env=%s err=%v", sess.id, err)
		return ""
	}
	sess.recorder = store.NewRecorder(s.store, id, recordFlushSize, s.logger)
	return id
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.withSession(w, r, func(sess *session) (any, error) {
		if _, err := s.call(sess, bridge.OpUpdate, func() (any, error) { return nil, sess.env.Update(req.Action) }); err != nil {
			return nil, err
		}
		if sess.recorder != nil {
			s.recordStep(sess, req.Action)
		}
		return StatusResponse{Status: "ok"}, nil
	})
}

func (s *Server) recordStep(sess *session, action any) {
	obs, err := sess.env.Observe()
	if err != nil {
		s.logger.Printf("record_observe_failed env=%s err=%v", sess.id, err)
		return
	}
	res, err := sess.env.Result()
	if err != nil {
		s.logger.Printf("record_result_failed env=%s err=%v", sess.id, err)
		return
	}
	s.record(sess, action, obs, res)
}

func (s *Server) record(sess *session, action any, obs, res []any) {
	if err := sess.recorder.Record(action, obs, res); err != nil {
		s.logger.Printf("record_failed env=%s episode=%s err=%v", sess.id, sess.recorder.EpisodeID(), err)
	}
}

// handleStep updates and returns the observation and result read right after,
// which is also what gets recorded.
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.withSession(w, r, func(sess *session) (any, error) {
		out, err := s.call(sess, bridge.OpStep, func() (any, error) { return sess.env.Call(bridge.OpStep, req.Action) })
		if err != nil {
			return nil, err
		}
		step := out.(bridge.StepResult)
		if sess.recorder != nil {
			s.record(sess, req.Action, step.Observation, step.Result)
		}
		return step, nil
	})
}

func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *session) (any, error) {
		out, err := s.call(sess, bridge.OpObserve, func() (any, error) { return sess.env.Observe() })
		if err != nil {
			return nil, err
		}
		return ObserveResponse{Observation: out.([]any)}, nil
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *session) (any, error) {
		out, err := s.call(sess, bridge.OpResult, func() (any, error) { return sess.env.Result() })
		if err != nil {
			return nil, err
		}
		return ResultResponse{Result: out.([]any)}, nil
	})
}

func (s *Server) handleAgentCount(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *session) (any, error) {
		out, err := s.call(sess, bridge.OpAgentCount, func() (any, error) { return sess.env.AgentCount() })
		if err != nil {
			return nil, err
		}
		return AgentCountResponse{AgentCount: out.([]any)}, nil
	})
}

// handleGetUI passes the path segment through as a JSON number so "1.5" and
// "abc" fail conversion like they would in a body.
func (s *Server) handleGetUI(w http.ResponseWriter, r *http.Request) {
	agentID := json.Number(chi.URLParam(r, "agentID"))
	s.withSession(w, r, func(sess *session) (any, error) {
		out, err := s.call(sess, bridge.OpGetUI, func() (any, error) { return sess.env.GetUI(agentID) })
		if err != nil {
			return nil, err
		}
		return UIResponse{UI: out.([]any)}, nil
	})
}

func (s *Server) handleRunScript(w http.ResponseWriter, r *http.Request) {
	var req RunScriptRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.withSession(w, r, func(sess *session) (any, error) {
		out, err := s.call(sess, bridge.OpRunScript, func() (any, error) { return sess.env.Call(bridge.OpRunScript, req.Script) })
		if err != nil {
			return nil, err
		}
		return RunScriptResponse{Output: out.(string)}, nil
	})
}

// handleCall is the generic dispatch: {op, args} straight into bridge.Call.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Op == "" {
		s.errorHandler.HandleValidationError(w, r, "op", "op is required")
		return
	}
	label := req.Op
	if bridge.Arity(label) < 0 {
		label = "unknown"
	}
	s.withSession(w, r, func(sess *session) (any, error) {
		out, err := s.call(sess, label, func() (any, error) { return sess.env.Call(req.Op, req.Args...) })
		if err != nil {
			return nil, err
		}
		switch req.Op {
		case bridge.OpReset:
			if s.store != nil {
				s.startEpisode(sess, req.Args[0])
			}
		case bridge.OpUpdate:
			if sess.recorder != nil {
				s.recordStep(sess, req.Args[0])
			}
		case bridge.OpStep:
			if sess.recorder != nil {
				step := out.(bridge.StepResult)
				s.record(sess, req.Args[0], step.Observation, step.Result)
			}
		}
		return CallResponse{Op: req.Op, Result: out}, nil
	})
}

func (s *Server) handleListEpisodes(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorHandler.HandleError(w, r, NewError(ErrTypeNotFound, "episode recording is disabled").Build())
		return
	}
	s.flushRecordings()
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	eps, total, err := s.store.ListEpisodes(limit, offset)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ListEpisodesResponse{Episodes: eps, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleGetEpisode(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorHandler.HandleError(w, r, NewError(ErrTypeNotFound, "episode recording is disabled").Build())
		return
	}
	s.flushRecordings()
	ep, err := s.store.GetEpisode(chi.URLParam(r, "id"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ep)
}

func (s *Server) handleGetSteps(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorHandler.HandleError(w, r, NewError(ErrTypeNotFound, "episode recording is disabled").Build())
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetEpisode(id); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.flushRecordings()
	page, err := s.store.GetSteps(id, queryInt(r, "page", 1), queryInt(r, "per_page", 50))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

// flushRecordings writes buffered steps of live sessions so reads see them.
func (s *Server) flushRecordings() {
	for _, sess := range s.sessions.list() {
		sess.mu.Lock()
		if sess.recorder != nil {
			if err := sess.recorder.Flush(); err != nil {
				s.logger.Printf("record_flush_failed env=%s err=%v", sess.id, err)
			}
		}
		sess.mu.Unlock()
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
