package syncengine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSearch() (*UserSearch, *fakeBackend, *manualLoop) {
	loop := newManualLoop()
	api := newFakeBackend()
	return NewUserSearch(api, loop, loop, testViewer, 0, nil, nil), api, loop
}

func TestUserSearch(t *testing.T) {
	t.Run("debounces to one request with the final query", func(t *testing.T) {
		s, api, loop := newTestSearch()
		api.users = []Profile{{ID: "u1", FirstName: "Ana"}, {ID: testViewer}}

		s.Search("an")
		loop.Advance(100 * time.Millisecond)
		s.Search("ana")
		loop.Advance(299 * time.Millisecond)
		assert.Empty(t, loop.pending)

		loop.Advance(time.Millisecond)
		require.Len(t, loop.pending, 1)
		assert.True(t, s.State().Loading)

		loop.RunPending()
		assert.Equal(t, []string{"ana"}, api.queries)
		st := s.State()
		assert.False(t, st.Loading)
		assert.NoError(t, st.Err)
		require.Len(t, st.Results, 1, "the viewer is filtered out")
		assert.Equal(t, "u1", st.Results[0].ID)
	})

	t.Run("one character sets the hint without a request", func(t *testing.T) {
		s, api, loop := newTestSearch()
		s.Search("a")
		loop.Advance(time.Second)
		assert.Empty(t, loop.pending)
		assert.Empty(t, api.queries)
		assert.ErrorIs(t, s.State().Err, ErrQueryTooShort)
		assert.Empty(t, s.State().Results)
	})

	t.Run("clearing the query cancels the pending request", func(t *testing.T) {
		s, _, loop := newTestSearch()
		s.Search("ana")
		s.Search("  ")
		loop.Advance(time.Second)
		assert.Empty(t, loop.pending)
		assert.Equal(t, SearchState{}, s.State())
	})

	t.Run("stale responses are discarded", func(t *testing.T) {
		s, api, loop := newTestSearch()
		api.users = []Profile{{ID: "u1"}}
		s.Search("ana")
		loop.Advance(DefaultSearchDebounce)
		require.Len(t, loop.pending, 1)

		s.Search("bob")
		loop.RunAt(0)
		assert.Empty(t, s.State().Results)
		assert.Equal(t, "bob", s.State().Query)
	})

	t.Run("request failure is reported", func(t *testing.T) {
		s, api, loop := newTestSearch()
		api.searchErr = errors.New("down")
		s.Search("ana")
		loop.Advance(DefaultSearchDebounce)
		loop.RunPending()
		assert.EqualError(t, s.State().Err, "down")
	})
}
