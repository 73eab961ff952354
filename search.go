package syncengine

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	// DefaultSearchDebounce is the quiet period before a query is sent.
	DefaultSearchDebounce = 300 * time.Millisecond
	// MinSearchLength is the shortest query that reaches the server.
	MinSearchLength = 2
)

// UserSearchAPI looks users up by name.
type UserSearchAPI interface {
	SearchUsers(ctx context.Context, query string) ([]Profile, error)
}

// SearchState is the observable state of a user search.
type SearchState struct {
	Query   string
	Results []Profile
	Loading bool
	// Err is ErrQueryTooShort for one-character queries, or the last request
	// failure.
	Err error
}

// UserSearch debounces queries and keeps only the answer to the latest one.
type UserSearch struct {
	api      UserSearchAPI
	sched    Scheduler
	runner   Runner
	viewerID string
	debounce time.Duration
	logger   *zap.Logger
	changes  *Broadcast[Change]

	timer Timer
	seq   uint64
	state SearchState
}

// NewUserSearch creates a search. debounce <= 0 uses DefaultSearchDebounce.
func NewUserSearch(api UserSearchAPI, sched Scheduler, runner Runner, viewerID string, debounce time.Duration, logger *zap.Logger, changes *Broadcast[Change]) *UserSearch {
	if debounce <= 0 {
		debounce = DefaultSearchDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserSearch{
		api:      api,
		sched:    sched,
		runner:   runner,
		viewerID: viewerID,
		debounce: debounce,
		logger:   logger.Named("search"),
		changes:  changes,
	}
}

// State returns the current search state.
func (s *UserSearch) State() SearchState {
	st := s.state
	st.Results = append([]Profile(nil), s.state.Results...)
	return st
}

// Search records a keystroke. Each call cancels the pending request timer;
// only a query left untouched for the debounce period is sent.
func (s *UserSearch) Search(query string) {
	s.seq++
	s.cancelTimer()

	q := strings.TrimSpace(query)
	switch n := utf8.RuneCountInString(q); {
	case n == 0:
		s.state = SearchState{}
		s.publish()
		return
	case n < MinSearchLength:
		s.state = SearchState{Query: q, Err: ErrQueryTooShort}
		s.publish()
		return
	}

	s.state.Query = q
	seq := s.seq
	s.timer = s.sched.AfterFunc(s.debounce, func() {
		s.timer = nil
		s.run(q, seq)
	})
}

// Reset clears the query and drops any in-flight answer.
func (s *UserSearch) Reset() {
	s.Search("")
}

func (s *UserSearch) run(q string, seq uint64) {
	s.state.Loading = true
	s.publish()
	s.runner.Go(func(ctx context.Context) func() {
		results, err := s.api.SearchUsers(ctx, q)
		return func() {
			if seq != s.seq {
				s.logger.Debug("discarding stale search results", zap.String("query", q))
				return
			}
			s.state.Loading = false
			if err != nil {
				s.logger.Warn("user search failed", zap.String("query", q), zap.Error(err))
				s.state.Results = nil
				s.state.Err = err
			} else {
				s.state.Results = s.withoutViewer(results)
				s.state.Err = nil
			}
			s.publish()
		}
	})
}

func (s *UserSearch) withoutViewer(in []Profile) []Profile {
	out := make([]Profile, 0, len(in))
	for _, p := range in {
		if p.ID != s.viewerID {
			out = append(out, p)
		}
	}
	return out
}

func (s *UserSearch) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *UserSearch) publish() {
	s.changes.Publish(Change{Kind: ChangeSearch})
}

// Close cancels a pending request timer.
func (s *UserSearch) Close() {
	s.cancelTimer()
}
