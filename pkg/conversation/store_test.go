package conversation

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func historyTexts(s *Store) []string {
	ret := []string{}
	for _, m := range s.History() {
		ret = append(ret, m.Text)
	}
	return ret
}

func TestNewStoreGreetings(t *testing.T) {
	s := NewStore([]string{" Hi ", "Hey"})

	assert.Equal(t, []string{"Hi"}, historyTexts(s))
	assert.Equal(t, []Position{{Selected: 1, Count: 2}}, s.HistoryStructure())
	require.NoError(t, s.Check())
}

func TestNewStoreWithoutGreetings(t *testing.T) {
	s := NewStore(nil)

	assert.Empty(t, s.History())
	assert.Empty(t, s.HistoryStructure())
	s.AppendToStreamingTail("nothing")
	assert.Empty(t, s.History())
}

func TestAppendUserTurnRoundTrip(t *testing.T) {
	s := NewStore([]string{"Hi"})

	id, err := s.AppendUserTurn("  Count to 3 ")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", "Count to 3", ""}, historyTexts(s))

	history := s.History()
	assert.Equal(t, UserOwner(), history[1].Owner)
	assert.Equal(t, CharacterOwner(0), history[2].Owner)
	assert.Equal(t, id, history[2].ID)

	for _, fragment := range []string{"1", ", 2", ", 3"} {
		assert.True(t, s.AppendFragment(id, fragment))
	}
	assert.Equal(t, []string{"Hi", "Count to 3", "1, 2, 3"}, historyTexts(s))

	msg, ok := s.Message(id)
	require.True(t, ok)
	assert.Equal(t, "1, 2, 3", msg.Text)
	require.NoError(t, s.Check())
}

func TestAppendUserTurnBlankContinues(t *testing.T) {
	s := NewStore([]string{"Hi"})

	id, err := s.AppendUserTurn("   ")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", ""}, historyTexts(s))
	assert.Equal(t, id, s.History()[1].ID)
}

func TestStoreAdvanceCreatesOnlyAtFrontier(t *testing.T) {
	s := NewStore([]string{"Hi", "Hey"})

	require.NoError(t, s.Retreat(0))
	assert.Equal(t, []string{"Hi"}, historyTexts(s))

	id, created, err := s.Advance(0)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, s.History()[0].ID, id)

	id, created, err = s.Advance(0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{""}, historyTexts(s))
	assert.True(t, s.AppendFragment(id, "Hello"))
	assert.Equal(t, []string{"Hello"}, historyTexts(s))
	assert.Equal(t, []Position{{Selected: 3, Count: 3}}, s.HistoryStructure())
}

func TestStoreEdit(t *testing.T) {
	s := NewStore([]string{"Hi"})
	response, err := s.AppendUserTurn("hello")
	require.NoError(t, err)
	s.AppendFragment(response, "answer")

	id, created, err := s.Edit(2, "corrected")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, NullNode, id)
	assert.Equal(t, []string{"Hi", "hello", "corrected"}, historyTexts(s))

	id, created, err = s.Edit(1, "other question")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"Hi", "other question", ""}, historyTexts(s))
	assert.Equal(t, []Position{{1, 1}, {2, 2}, {1, 1}}, s.HistoryStructure())

	lineage, ok := s.Lineage(id)
	require.True(t, ok)
	require.Len(t, lineage, 2)
	assert.Equal(t, "other question", lineage[1].Text)
	require.NoError(t, s.Check())
}

func TestStoreRemoveDropsFragments(t *testing.T) {
	s := NewStore([]string{"Hi"})
	id, err := s.AppendUserTurn("hello")
	require.NoError(t, err)

	require.NoError(t, s.Remove(1))
	assert.Equal(t, []string{"Hi"}, historyTexts(s))

	assert.False(t, s.AppendFragment(id, "late"))
	_, ok := s.Lineage(id)
	assert.False(t, ok)
	_, ok = s.Message(id)
	assert.False(t, ok)
	require.NoError(t, s.Check())
}

func TestStoreInvalidDepthLeavesTreeUntouched(t *testing.T) {
	s := NewStore([]string{"Hi"})

	_, _, err := s.Advance(5)
	assert.ErrorIs(t, err, ErrInvalidDepth)
	assert.ErrorIs(t, s.Retreat(5), ErrInvalidDepth)
	_, _, err = s.Edit(-1, "x")
	assert.ErrorIs(t, err, ErrInvalidDepth)
	assert.ErrorIs(t, s.Remove(1), ErrInvalidDepth)

	assert.Equal(t, []string{"Hi"}, historyTexts(s))
	assert.Equal(t, []Position{{1, 1}}, s.HistoryStructure())
}

func TestStreamingIntoUnselectedBranch(t *testing.T) {
	s := NewStore([]string{"Hi"})
	first, err := s.AppendUserTurn("hello")
	require.NoError(t, err)

	// regenerating moves the selection to a new empty alternative
	second, created, err := s.Advance(2)
	require.NoError(t, err)
	require.True(t, created)

	assert.True(t, s.AppendFragment(first, "old"))
	assert.True(t, s.AppendFragment(second, "new"))
	assert.Equal(t, []string{"Hi", "hello", "new"}, historyTexts(s))

	require.NoError(t, s.Retreat(2))
	assert.Equal(t, []string{"Hi", "hello", "old"}, historyTexts(s))
}

func TestConcurrentFragmentsAndReads(t *testing.T) {
	s := NewStore([]string{"Hi"})
	id, err := s.AppendUserTurn("go")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.AppendFragment(id, "x")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = s.History()
				_ = s.HistoryStructure()
			}
		}()
	}
	wg.Wait()

	msg, ok := s.Message(id)
	require.True(t, ok)
	assert.Len(t, msg.Text, 200)
	require.NoError(t, s.Check())
}

func TestInvariantsHoldAcrossOperations(t *testing.T) {
	s := NewStore([]string{"A", "B"})

	steps := []func() error{
		func() error { _, err := s.AppendUserTurn("one"); return err },
		func() error { _, _, err := s.Advance(2); return err },
		func() error { _, _, err := s.Edit(1, "two"); return err },
		func() error { return s.Retreat(1) },
		func() error { _, _, err := s.Advance(0); return err },
		func() error { return s.Remove(0) },
		func() error { _, err := s.AppendUserTurn("three"); return err },
		func() error { return s.Remove(0) },
	}
	for i, step := range steps {
		require.NoError(t, step(), fmt.Sprintf("step %d", i))
		require.NoError(t, s.Check(), fmt.Sprintf("step %d", i))
		for _, p := range s.HistoryStructure() {
			assert.True(t, p.Selected >= 1 && p.Selected <= p.Count)
		}
	}
}
