package anacrolix

import (
	"context"
	"testing"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/types"
	"github.com/stretchr/testify/require"

	"magnet-queue/internal/domain"
	"magnet-queue/internal/engine"
)

const testMagnet = "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567&dn=test"

func newTestEngine() *Engine {
	return newEngine(Config{DataDir: "unused"}, nil)
}

func TestMapPriority(t *testing.T) {
	tests := []struct {
		name string
		in   domain.Priority
		want types.PiecePriority
	}{
		{"Skip", domain.PrioritySkip, torrent.PiecePriorityNone},
		{"Low", domain.PriorityLow, torrent.PiecePriorityNormal},
		{"Normal", domain.PriorityNormal, torrent.PiecePriorityNormal},
		{"High", domain.PriorityHigh, torrent.PiecePriorityHigh},
		{"UnknownFallsBackToNormal", domain.Priority("urgent"), torrent.PiecePriorityNormal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, mapPriority(tc.in))
		})
	}
}

func TestUnmapPriority(t *testing.T) {
	require.Equal(t, domain.PrioritySkip, unmapPriority(torrent.PiecePriorityNone))
	require.Equal(t, domain.PriorityNormal, unmapPriority(torrent.PiecePriorityNormal))
	require.Equal(t, domain.PriorityHigh, unmapPriority(torrent.PiecePriorityHigh))
}

func TestAddRejectsMalformedSource(t *testing.T) {
	e := newTestEngine()

	_, err := e.Add("not a magnet", t.TempDir(), nil)
	require.ErrorIs(t, err, domain.ErrEngineRejected)

	_, err = e.Add("   ", t.TempDir(), nil)
	require.ErrorIs(t, err, domain.ErrEngineRejected)
}

func TestSpecForFallsBackToSourceOnCorruptBlob(t *testing.T) {
	e := newTestEngine()

	spec, err := e.specFor(testMagnet, []byte("garbage"))
	require.NoError(t, err)
	require.Equal(t, "0123456789abcdef0123456789abcdef01234567", spec.InfoHash.HexString())
}

func TestSpecForPrefersResumeBlob(t *testing.T) {
	info := metainfo.Info{
		Name:        "episode.mkv",
		PieceLength: 16384,
		Pieces:      make([]byte, 20),
		Length:      1024,
	}
	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)
	mi := metainfo.MetaInfo{InfoBytes: infoBytes}
	blob, err := bencode.Marshal(mi)
	require.NoError(t, err)

	e := newTestEngine()
	spec, err := e.specFor(testMagnet, blob)
	require.NoError(t, err)
	require.Equal(t, mi.HashInfoBytes(), spec.InfoHash)
}

func TestOperationsOnUnknownHandle(t *testing.T) {
	e := newTestEngine()
	h := engine.Handle(42)

	require.ErrorIs(t, e.Pause(h), domain.ErrHandleInvalid)
	require.ErrorIs(t, e.Resume(h), domain.ErrHandleInvalid)
	require.ErrorIs(t, e.Remove(h, false), domain.ErrHandleInvalid)
	require.ErrorIs(t, e.RequestResumeData(h), domain.ErrHandleInvalid)
	require.ErrorIs(t, e.ForceRecheck(h), domain.ErrHandleInvalid)

	_, err := e.PollStatus(h)
	require.ErrorIs(t, err, domain.ErrHandleInvalid)
	_, err = e.Files(h)
	require.ErrorIs(t, err, domain.ErrHandleInvalid)

	require.False(t, e.SetFilePriority(h, 0, domain.PriorityHigh))
}

func TestDrainEventsPreservesOrder(t *testing.T) {
	e := newTestEngine()
	e.push(engine.Event{Kind: engine.EventMetadataReceived, Handle: 1})
	e.push(engine.Event{Kind: engine.EventResumeDataReady, Handle: 2, Blob: []byte("x")})
	e.push(engine.Event{Kind: engine.EventVerificationComplete, Handle: 1, Progress: 100})

	events := e.DrainEvents()
	require.Len(t, events, 3)
	require.Equal(t, engine.EventMetadataReceived, events[0].Kind)
	require.Equal(t, engine.EventResumeDataReady, events[1].Kind)
	require.Equal(t, engine.EventVerificationComplete, events[2].Kind)
	require.Nil(t, e.DrainEvents())
}

func TestWait(t *testing.T) {
	e := newTestEngine()

	start := time.Now()
	require.False(t, e.Wait(context.Background(), 20*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	e.push(engine.Event{Kind: engine.EventMetadataReceived, Handle: 1})
	require.True(t, e.Wait(context.Background(), time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.DrainEvents()
	<-e.notify
	require.False(t, e.Wait(ctx, time.Second))
}

func TestSpeedSample(t *testing.T) {
	var s speedSample
	base := time.Unix(1700000000, 0)

	var stats torrent.TorrentStats
	stats.BytesReadUsefulData.Add(1000)
	stats.BytesWrittenData.Add(500)
	dl, ul := s.sample(stats, base)
	require.Zero(t, dl)
	require.Zero(t, ul)

	var next torrent.TorrentStats
	next.BytesReadUsefulData.Add(3000)
	next.BytesWrittenData.Add(1500)
	dl, ul = s.sample(next, base.Add(2*time.Second))
	require.Equal(t, int64(1000), dl)
	require.Equal(t, int64(500), ul)
}

func TestPercent(t *testing.T) {
	require.Zero(t, percent(10, 0))
	require.InDelta(t, 50.0, percent(5, 10), 1e-9)
	require.InDelta(t, 100.0, percent(12, 10), 1e-9)
}
