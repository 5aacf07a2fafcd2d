package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/xlsxctx/internal/grid"
	"github.com/vinodismyname/xlsxctx/internal/ingest"
)

type fakeClock struct{ now atomic.Int64 }

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.now.Store(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time          { return time.Unix(0, c.now.Load()).UTC() }
func (c *fakeClock) Advance(d time.Duration) { c.now.Add(int64(d)) }

func doc(t *testing.T, source, path string, values [][]string) ingest.Document {
	t.Helper()
	chunks := ingest.Ingest(grid.FromValues(values), source, ingest.Options{})
	d := ingest.NewDocument(source, chunks)
	d.Path = path
	return d
}

var twoTables = [][]string{{"Month", "Revenue"}, {"Jan", "100"}, {}, {}, {"Item", "Cost"}, {"Rent", "$5"}}

func TestSession_DocumentsAndContext(t *testing.T) {
	store := NewStore(time.Hour, time.Minute)
	sess := store.Create()

	require.False(t, sess.HasFiles())
	require.Equal(t, NoFilesContext, sess.CombinedContext())

	a := doc(t, "a.xlsx", "/data/a.xlsx", twoTables)
	b := doc(t, "b.xlsx", "/data/b.xlsx", [][]string{{"x", "y"}, {"1", "2"}})
	require.True(t, sess.AddDocument(a))
	require.True(t, sess.AddDocument(b))
	require.False(t, sess.AddDocument(a))

	require.True(t, sess.HasFiles())
	require.Equal(t, a.Markdown+"\n\n---\n\n"+b.Markdown, sess.CombinedContext())

	chunks := sess.Chunks()
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		require.Equal(t, i, c.Index)
		require.Equal(t, sess.ID, c.SessionID)
	}
	require.Equal(t, sess.ID+"-2", chunks[2].ID)
	require.Equal(t, 3, sess.NextIndex())

	files := sess.Files()
	require.Len(t, files, 2)
	require.Equal(t, "a.xlsx", files[0].Source)
	require.Equal(t, 2, files[0].Chunks)
	require.Positive(t, files[0].Tokens)
}

func TestSession_SameNameReplacesInPlace(t *testing.T) {
	sess := NewStore(time.Hour, time.Minute).Create()
	require.True(t, sess.AddDocument(doc(t, "a.xlsx", "/one/a.xlsx", twoTables)))
	require.True(t, sess.AddDocument(doc(t, "b.xlsx", "/one/b.xlsx", twoTables)))
	require.True(t, sess.AddDocument(doc(t, "a.xlsx", "/two/a.xlsx", [][]string{{"p", "q"}, {"1", "2"}})))

	files := sess.Files()
	require.Len(t, files, 2)
	require.Equal(t, "/two/a.xlsx", files[0].Path)
	require.Equal(t, 1, files[0].Chunks)
	// ordinals are never reused
	require.Equal(t, 5, sess.NextIndex())
}

func TestSession_RemoveAndClear(t *testing.T) {
	sess := NewStore(time.Hour, time.Minute).Create()
	sess.AddDocument(doc(t, "a.xlsx", "/a.xlsx", twoTables))
	sess.AppendExchange("q1", "a1")
	sess.AppendExchange("q2", "a2")
	require.Equal(t, []string{"q1", "a1", "q2", "a2"}, sess.History())

	require.ErrorIs(t, sess.RemoveFile("missing.xlsx"), ErrFileNotFound)

	sess.ClearHistory()
	require.Empty(t, sess.History())
	require.True(t, sess.HasFiles())

	require.NoError(t, sess.RemoveFile("a.xlsx"))
	require.False(t, sess.HasFiles())

	sess.AddDocument(doc(t, "b.xlsx", "/b.xlsx", twoTables))
	sess.AppendExchange("q", "a")
	sess.ClearAll()
	require.False(t, sess.HasFiles())
	require.Empty(t, sess.History())
	require.Equal(t, 0, sess.NextIndex())
}

func TestSession_HistoryIsCopied(t *testing.T) {
	sess := NewStore(time.Hour, time.Minute).Create()
	sess.AppendExchange("q", "a")
	h := sess.History()
	h[0] = "changed"
	require.Equal(t, "q", sess.History()[0])
}

func TestSession_Status(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(time.Hour, time.Minute, WithClock(clock.Now))
	sess := store.Create()
	created := clock.Now()

	st := sess.Status()
	require.Zero(t, st.ContextTokens)
	require.Empty(t, st.Files)

	clock.Advance(time.Minute)
	sess.AddDocument(doc(t, "a.xlsx", "/a.xlsx", twoTables))
	sess.AppendExchange("what is revenue", "100")

	st = sess.Status()
	require.Equal(t, sess.ID, st.ID)
	require.Equal(t, 2, st.Chunks)
	require.Equal(t, 2, st.HistoryMessages)
	require.Positive(t, st.ContextTokens)
	require.Equal(t, 4+1, st.HistoryTokens)
	require.Equal(t, created, st.CreatedAt)
	require.Equal(t, created.Add(time.Minute), st.LastActivity)
}

func TestStore_GetCreateEnd(t *testing.T) {
	store := NewStore(time.Hour, time.Minute)

	sess, created, err := store.GetOrCreate("")
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := store.GetOrCreate(sess.ID)
	require.NoError(t, err)
	require.False(t, created)
	require.Same(t, sess, again)

	_, _, err = store.GetOrCreate("nope")
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.Equal(t, 1, store.Count())
	require.NoError(t, store.End(sess.ID))
	require.ErrorIs(t, store.End(sess.ID), ErrSessionNotFound)
	_, err = store.Get(sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_EvictIdle(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(30*time.Minute, time.Minute, WithClock(clock.Now))

	stale := store.Create()
	clock.Advance(20 * time.Minute)
	fresh := store.Create()

	clock.Advance(15 * time.Minute)
	require.Equal(t, 1, store.EvictIdle())

	_, err := store.Get(stale.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Get(fresh.ID)
	require.NoError(t, err)

	// Get refreshed activity, so a further 20 minutes keeps it alive.
	clock.Advance(20 * time.Minute)
	require.Equal(t, 0, store.EvictIdle())
}

func TestStore_ListOrdersByCreation(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(time.Hour, time.Minute, WithClock(clock.Now))
	first := store.Create()
	clock.Advance(time.Second)
	second := store.Create()

	list := store.List()
	require.Len(t, list, 2)
	require.Equal(t, first.ID, list[0].ID)
	require.Equal(t, second.ID, list[1].ID)
}

func TestStore_StartClose(t *testing.T) {
	store := NewStore(time.Hour, 10*time.Millisecond)
	store.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, store.Close(ctx))
	require.NoError(t, store.Close(ctx))
}
