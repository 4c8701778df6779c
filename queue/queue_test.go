package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/sumeragi/wsv"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestPushAndPopUpToInInsertionOrder(t *testing.T) {
	now := time.Now()
	q := New()
	q.now = fixedClock(now)

	tx1 := wsv.Transaction{CreatedAt: now.UnixNano(), Payload: []wsv.Instruction{wsv.RegisterDomain("a")}}
	tx2 := wsv.Transaction{CreatedAt: now.UnixNano(), Payload: []wsv.Instruction{wsv.RegisterDomain("b")}}
	require.NoError(t, q.Push(tx1))
	require.NoError(t, q.Push(tx2))
	require.Equal(t, 2, q.Len())

	popped := q.PopUpTo(10, nil)
	require.Len(t, popped, 2)
	require.Equal(t, tx1, popped[0])
	require.Equal(t, tx2, popped[1])
	require.Equal(t, 2, q.Len(), "PopUpTo must not remove transactions")
}

func TestPopUpToRespectsLimitAndPredicate(t *testing.T) {
	now := time.Now()
	q := New()
	q.now = fixedClock(now)

	for i := 0; i < 5; i++ {
		tx := wsv.Transaction{CreatedAt: now.UnixNano() + int64(i), Payload: []wsv.Instruction{wsv.RegisterDomain("a")}}
		require.NoError(t, q.Push(tx))
	}

	seen := 0
	popped := q.PopUpTo(3, func(wsv.Transaction) bool {
		seen++
		return seen%2 == 1 // accept every other transaction
	})
	require.LessOrEqual(t, len(popped), 3)
}

func TestPushRejectsDuplicate(t *testing.T) {
	now := time.Now()
	q := New()
	q.now = fixedClock(now)
	tx := wsv.Transaction{CreatedAt: now.UnixNano(), Payload: []wsv.Instruction{wsv.RegisterDomain("a")}}

	require.NoError(t, q.Push(tx))
	require.ErrorIs(t, q.Push(tx), ErrDuplicate)
}

func TestPushRejectsStaleOrFutureTimestamps(t *testing.T) {
	now := time.Now()
	q := New()
	q.now = fixedClock(now)

	stale := wsv.Transaction{CreatedAt: now.Add(-2 * time.Hour).UnixNano()}
	require.Error(t, q.Push(stale))

	future := wsv.Transaction{CreatedAt: now.Add(time.Hour).UnixNano()}
	require.Error(t, q.Push(future))
}

func TestRemoveDropsCommittedTransactions(t *testing.T) {
	now := time.Now()
	q := New()
	q.now = fixedClock(now)

	tx := wsv.Transaction{CreatedAt: now.UnixNano(), Payload: []wsv.Instruction{wsv.RegisterDomain("a")}}
	require.NoError(t, q.Push(tx))

	hash := tx.Hash()
	q.Remove([][32]byte{hash})
	require.Equal(t, 0, q.Len())
}
