package workbooks

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// fakeGate counts acquire/release calls.
type fakeGate struct {
	acquireErr error
	acquires   atomic.Int64
	releases   atomic.Int64
}

func (g *fakeGate) AcquireWorkbook(ctx context.Context) error {
	g.acquires.Add(1)
	return g.acquireErr
}
func (g *fakeGate) ReleaseWorkbook() { g.releases.Add(1) }

func writeBook(t *testing.T, name string) string {
	t.Helper()
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Month"))
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func TestOpenReadClose(t *testing.T) {
	gate := &fakeGate{}
	m := NewManager(time.Minute, time.Minute, WithGate(gate))

	id, err := m.Open(context.Background(), writeBook(t, "sales.xlsx"))
	require.NoError(t, err)
	require.Equal(t, 1, m.Count())

	err = m.WithRead(id, func(h *Handle) error {
		require.Equal(t, "sales.xlsx", h.Source)
		v, err := h.File.GetCellValue("Sheet1", "A1")
		require.NoError(t, err)
		require.Equal(t, "Month", v)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, m.CloseHandle(id))
	require.Equal(t, 0, m.Count())
	require.Equal(t, int64(1), gate.acquires.Load())
	require.Equal(t, int64(1), gate.releases.Load())

	require.ErrorIs(t, m.CloseHandle(id), ErrHandleNotFound)
	require.ErrorIs(t, m.WithRead(id, func(*Handle) error { return nil }), ErrHandleNotFound)
}

func TestOpenReader(t *testing.T) {
	f := excelize.NewFile()
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())

	m := NewManager(time.Minute, time.Minute)
	id, err := m.OpenReader(context.Background(), &buf, "upload.xlsx")
	require.NoError(t, err)

	h, ok := m.Get(id)
	require.True(t, ok)
	require.Equal(t, "upload.xlsx", h.Source)
	require.Empty(t, h.Path)
	require.NoError(t, m.Close(context.Background()))
	require.Equal(t, 0, m.Count())
}

func TestOpen_RelativePathRecordedAbsolute(t *testing.T) {
	path := writeBook(t, "sales.xlsx")
	t.Chdir(filepath.Dir(path))

	m := NewManager(time.Minute, time.Minute)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	id, err := m.Open(context.Background(), "./sales.xlsx")
	require.NoError(t, err)

	h, ok := m.Get(id)
	require.True(t, ok)
	require.True(t, filepath.IsAbs(h.Path))
	require.Equal(t, "sales.xlsx", filepath.Base(h.Path))
}

func TestTTLExpiryAndEviction(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Now().UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	gate := &fakeGate{}
	m := NewManager(50*time.Millisecond, time.Minute, WithGate(gate), WithClock(clock))

	_, err := m.Adopt(context.Background(), excelize.NewFile(), "a.xlsx")
	require.NoError(t, err)
	require.Equal(t, 0, m.EvictExpired())

	now.Add(int64(200 * time.Millisecond))
	require.Equal(t, 1, m.EvictExpired())
	require.Equal(t, 0, m.Count())
	require.Equal(t, int64(1), gate.releases.Load())
}

func TestGetRefreshesDeadline(t *testing.T) {
	var now atomic.Int64
	start := time.Now()
	now.Store(start.UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	m := NewManager(100*time.Millisecond, time.Minute, WithClock(clock))
	id, err := m.Adopt(context.Background(), excelize.NewFile(), "a.xlsx")
	require.NoError(t, err)

	now.Add(int64(80 * time.Millisecond))
	_, ok := m.Get(id)
	require.True(t, ok)

	now.Add(int64(80 * time.Millisecond))
	require.Equal(t, 0, m.EvictExpired())
}

func TestCloseHandleWaitsForReaders(t *testing.T) {
	m := NewManager(time.Minute, time.Minute)
	id, err := m.Adopt(context.Background(), excelize.NewFile(), "a.xlsx")
	require.NoError(t, err)

	var inRead sync.WaitGroup
	inRead.Add(1)
	release := make(chan struct{})
	go func() {
		_ = m.WithRead(id, func(*Handle) error {
			inRead.Done()
			<-release
			return nil
		})
	}()
	inRead.Wait()

	closed := make(chan struct{})
	go func() {
		_ = m.CloseHandle(id)
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("close should wait for the reader")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	<-closed
}

func TestOpen_UnsupportedFormatReleasesGate(t *testing.T) {
	gate := &fakeGate{}
	m := NewManager(time.Second, time.Second, WithGate(gate))

	_, err := m.Open(context.Background(), "notes.txt")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	require.Equal(t, int64(1), gate.acquires.Load())
	require.Equal(t, int64(1), gate.releases.Load())
}

func TestOpen_CorruptFileIsOpenFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o600))

	gate := &fakeGate{}
	m := NewManager(time.Second, time.Second, WithGate(gate))
	_, err := m.Open(context.Background(), path)
	require.ErrorIs(t, err, ErrOpenFailed)
	require.Equal(t, int64(1), gate.releases.Load())
}

func TestOpen_GateBusy(t *testing.T) {
	gate := &fakeGate{acquireErr: context.DeadlineExceeded}
	m := NewManager(time.Second, time.Second, WithGate(gate))

	_, err := m.Open(context.Background(), "sheet.xlsx")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, int64(0), gate.releases.Load())
}

type denyValidator struct{}

func (denyValidator) ValidateOpenPath(string) (string, error) { return "", errors.New("denied") }

func TestOpen_PathValidatorDeniedReleasesGate(t *testing.T) {
	gate := &fakeGate{}
	m := NewManager(time.Second, time.Second, WithGate(gate), WithPathValidator(denyValidator{}))

	_, err := m.Open(context.Background(), "ok.xlsx")
	require.EqualError(t, err, "denied")
	require.Equal(t, int64(1), gate.releases.Load())
}

func TestSupported(t *testing.T) {
	require.True(t, Supported("a.XLSX"))
	require.True(t, Supported("/tmp/b.xlsm"))
	require.False(t, Supported("c.xls"))
	require.False(t, Supported("d.csv"))
}
