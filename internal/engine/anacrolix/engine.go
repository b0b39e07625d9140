package anacrolix

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"github.com/anacrolix/torrent/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"magnet-queue/internal/domain"
	"magnet-queue/internal/engine"
)

// defaultMaxConns is restored when a hard-paused transfer resumes.
const defaultMaxConns = 35

type Config struct {
	DataDir      string
	ListenPort   int
	DownloadRate int64 // bytes/sec, 0 = unlimited
	TrackerList  []string
	Logger       *logrus.Logger
}

type transfer struct {
	t      *torrent.Torrent
	store  storage.ClientImplCloser
	dest   string
	paused bool
	speed  speedSample
	// prios holds file priorities chosen through SetFilePriority.
	prios map[int]types.PiecePriority
}

// Engine adapts an anacrolix torrent client to engine.Adapter.
type Engine struct {
	cfg    Config
	client *torrent.Client

	mu        sync.Mutex
	next      engine.Handle
	transfers map[engine.Handle]*transfer
	events    []engine.Event

	notify  chan struct{}
	closing chan struct{}
	wg      sync.WaitGroup
	now     func() time.Time
}

func New(cfg Config) (*Engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.DataDir = cfg.DataDir
	clientConfig.NoUpload = false
	clientConfig.Seed = true
	if cfg.ListenPort > 0 {
		clientConfig.ListenPort = cfg.ListenPort
	}
	if cfg.DownloadRate > 0 {
		burst := int(cfg.DownloadRate)
		if burst < 1<<17 {
			burst = 1 << 17
		}
		clientConfig.DownloadRateLimiter = rate.NewLimiter(rate.Limit(cfg.DownloadRate), burst)
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}
	return newEngine(cfg, client), nil
}

func newEngine(cfg Config, client *torrent.Client) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if len(cfg.TrackerList) == 0 {
		cfg.TrackerList = defaultTrackers()
	}
	return &Engine{
		cfg:       cfg,
		client:    client,
		transfers: make(map[engine.Handle]*transfer),
		notify:    make(chan struct{}, 1),
		closing:   make(chan struct{}),
		now:       time.Now,
	}
}

func (e *Engine) Add(source, destination string, resumeBlob []byte) (engine.Handle, error) {
	spec, err := e.specFor(source, resumeBlob)
	if err != nil {
		return 0, err
	}
	if e.client == nil {
		return 0, fmt.Errorf("%w: torrent client not configured", domain.ErrEngineRejected)
	}
	if _, exists := e.client.Torrent(spec.InfoHash); exists {
		return 0, fmt.Errorf("%w: duplicate info hash %s", domain.ErrEngineRejected, spec.InfoHash.HexString())
	}
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return 0, fmt.Errorf("create destination: %w", err)
	}

	store := storage.NewFile(destination)
	spec.Storage = store
	for _, tracker := range e.cfg.TrackerList {
		spec.Trackers = append(spec.Trackers, []string{tracker})
	}

	t, isNew, err := e.client.AddTorrentSpec(spec)
	if err != nil {
		_ = store.Close()
		return 0, fmt.Errorf("%w: %v", domain.ErrEngineRejected, err)
	}
	if !isNew {
		_ = store.Close()
		return 0, fmt.Errorf("%w: duplicate info hash %s", domain.ErrEngineRejected, spec.InfoHash.HexString())
	}
	hardPause(t)

	e.mu.Lock()
	e.next++
	h := e.next
	e.transfers[h] = &transfer{t: t, store: store, dest: destination, paused: true}
	e.mu.Unlock()

	e.wg.Add(1)
	go e.watchInfo(h, t)
	return h, nil
}

// specFor prefers a usable resume blob and falls back to the source otherwise.
func (e *Engine) specFor(source string, resumeBlob []byte) (*torrent.TorrentSpec, error) {
	if len(resumeBlob) > 0 {
		spec, err := specFromBlob(resumeBlob)
		if err == nil {
			return spec, nil
		}
		e.cfg.Logger.Debugf("resume blob unusable, starting from source: %v", err)
	}

	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: empty source", domain.ErrEngineRejected)
	}
	if !strings.HasPrefix(source, "magnet:") {
		if _, err := os.Stat(source); err == nil {
			mi, err := metainfo.LoadFromFile(source)
			if err != nil {
				return nil, fmt.Errorf("%w: load torrent file: %v", domain.ErrEngineRejected, err)
			}
			spec, err := torrent.TorrentSpecFromMetaInfoErr(mi)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrEngineRejected, err)
			}
			return spec, nil
		}
	}
	spec, err := torrent.TorrentSpecFromMagnetUri(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineRejected, err)
	}
	return spec, nil
}

func specFromBlob(blob []byte) (*torrent.TorrentSpec, error) {
	mi, err := metainfo.Load(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("decode resume blob: %w", err)
	}
	if len(mi.InfoBytes) == 0 {
		return nil, fmt.Errorf("resume blob has no info dictionary")
	}
	return torrent.TorrentSpecFromMetaInfoErr(mi)
}

func (e *Engine) watchInfo(h engine.Handle, t *torrent.Torrent) {
	defer e.wg.Done()
	select {
	case <-t.GotInfo():
	case <-t.Closed():
		return
	case <-e.closing:
		return
	}

	e.mu.Lock()
	tr, ok := e.transfers[h]
	if ok {
		applyFilePriorities(t, tr.prios)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	e.push(engine.Event{Kind: engine.EventMetadataReceived, Handle: h})
}

func (e *Engine) lookup(h engine.Handle) (*transfer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tr, ok := e.transfers[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrHandleInvalid, h)
	}
	return tr, nil
}

func (e *Engine) Pause(h engine.Handle) error {
	tr, err := e.lookup(h)
	if err != nil {
		return err
	}
	e.mu.Lock()
	already := tr.paused
	tr.paused = true
	e.mu.Unlock()
	if !already {
		hardPause(tr.t)
	}
	return nil
}

func (e *Engine) Resume(h engine.Handle) error {
	tr, err := e.lookup(h)
	if err != nil {
		return err
	}
	e.mu.Lock()
	wasPaused := tr.paused
	tr.paused = false
	e.mu.Unlock()
	if wasPaused {
		resumeTorrent(tr.t)
	}
	return nil
}

func (e *Engine) Remove(h engine.Handle, deleteFiles bool) error {
	e.mu.Lock()
	tr, ok := e.transfers[h]
	delete(e.transfers, h)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrHandleInvalid, h)
	}

	var content string
	if info := infoOf(tr.t); info != nil {
		content = filepath.Join(tr.dest, info.BestName())
	}
	tr.t.Drop()
	if err := tr.store.Close(); err != nil {
		e.cfg.Logger.Warnf("close storage for %s: %v", tr.dest, err)
	}
	if deleteFiles && content != "" {
		if err := os.RemoveAll(content); err != nil {
			return fmt.Errorf("delete content %s: %w", content, err)
		}
	}
	return nil
}

func (e *Engine) SetFilePriority(h engine.Handle, fileIndex int, prio domain.Priority) bool {
	tr, err := e.lookup(h)
	if err != nil || !torrentInfoReady(tr.t) {
		return false
	}
	files := tr.t.Files()
	if fileIndex < 0 || fileIndex >= len(files) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if tr.prios == nil {
		tr.prios = make(map[int]types.PiecePriority)
	}
	tr.prios[fileIndex] = mapPriority(prio)
	files[fileIndex].SetPriority(tr.prios[fileIndex])
	return true
}

func (e *Engine) PollStatus(h engine.Handle) (engine.Status, error) {
	tr, err := e.lookup(h)
	if err != nil {
		return engine.Status{}, err
	}
	t := tr.t
	stats := t.Stats()

	e.mu.Lock()
	dl, ul := tr.speed.sample(stats, e.now())
	e.mu.Unlock()

	st := engine.Status{
		DownloadRate: dl,
		UploadRate:   ul,
		Peers:        stats.ActivePeers,
		Seeds:        stats.ConnectedSeeders,
	}
	if !torrentInfoReady(t) {
		return st, nil
	}

	st.HasMetadata = true
	st.IsSeeding = t.Seeding()
	st.TotalDone, st.TotalWanted, st.Progress = wantedProgress(t)
	return st, nil
}

func (e *Engine) Files(h engine.Handle) ([]domain.FileEntry, error) {
	tr, err := e.lookup(h)
	if err != nil {
		return nil, err
	}
	if !torrentInfoReady(tr.t) {
		return nil, domain.ErrResumeDataUnavailable
	}
	files := tr.t.Files()
	entries := make([]domain.FileEntry, len(files))
	for i, f := range files {
		size := f.Length()
		done := f.BytesCompleted()
		remaining := size - done
		if remaining < 0 {
			remaining = 0
		}
		entries[i] = domain.FileEntry{
			Name:      filepath.Base(f.DisplayPath()),
			Path:      f.Path(),
			Size:      size,
			Progress:  percent(done, size),
			Priority:  unmapPriority(f.Priority()),
			Remaining: remaining,
		}
	}
	return entries, nil
}

func (e *Engine) RequestResumeData(h engine.Handle) error {
	tr, err := e.lookup(h)
	if err != nil {
		return err
	}
	if !torrentInfoReady(tr.t) {
		e.push(engine.Event{Kind: engine.EventResumeDataFailed, Handle: h, Err: domain.ErrResumeDataUnavailable})
		return nil
	}
	blob, err := bencode.Marshal(tr.t.Metainfo())
	if err != nil {
		e.push(engine.Event{Kind: engine.EventResumeDataFailed, Handle: h, Err: err})
		return nil
	}
	e.push(engine.Event{Kind: engine.EventResumeDataReady, Handle: h, Blob: blob})
	return nil
}

func (e *Engine) ForceRecheck(h engine.Handle) error {
	tr, err := e.lookup(h)
	if err != nil {
		return err
	}
	if !torrentInfoReady(tr.t) {
		return domain.ErrResumeDataUnavailable
	}
	t := tr.t
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		t.VerifyData()
		select {
		case <-e.closing:
			return
		default:
		}
		_, _, progress := wantedProgress(t)
		e.push(engine.Event{
			Kind:      engine.EventVerificationComplete,
			Handle:    h,
			Progress:  progress,
			IsSeeding: t.Seeding(),
		})
	}()
	return nil
}

func (e *Engine) DrainEvents() []engine.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.events) == 0 {
		return nil
	}
	out := e.events
	e.events = nil
	return out
}

func (e *Engine) Wait(ctx context.Context, timeout time.Duration) bool {
	e.mu.Lock()
	pending := len(e.events) > 0
	e.mu.Unlock()
	if pending {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.notify:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) Close() error {
	close(e.closing)

	e.mu.Lock()
	transfers := e.transfers
	e.transfers = make(map[engine.Handle]*transfer)
	e.mu.Unlock()

	for _, tr := range transfers {
		tr.t.Drop()
		_ = tr.store.Close()
	}
	e.wg.Wait()
	if e.client != nil {
		e.client.Close()
	}
	return nil
}

func (e *Engine) push(ev engine.Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// hardPause stops all network activity by gating data transfer and dropping peers.
func hardPause(t *torrent.Torrent) {
	t.DisallowDataDownload()
	t.DisallowDataUpload()
	t.SetMaxEstablishedConns(0)
}

func resumeTorrent(t *torrent.Torrent) {
	t.SetMaxEstablishedConns(defaultMaxConns)
	t.AllowDataUpload()
	t.AllowDataDownload()
}

// applyFilePriorities wants every file at normal priority unless a choice
// was recorded for it. Skipped files leave their pieces unwanted.
func applyFilePriorities(t *torrent.Torrent, chosen map[int]types.PiecePriority) {
	for i, f := range t.Files() {
		prio, ok := chosen[i]
		if !ok {
			prio = torrent.PiecePriorityNormal
		}
		f.SetPriority(prio)
	}
}

// wantedProgress measures completion over files that are not skipped.
// When every file is skipped it falls back to the whole torrent.
func wantedProgress(t *torrent.Torrent) (done, wanted int64, progress float64) {
	for _, f := range t.Files() {
		if f.Priority() == torrent.PiecePriorityNone {
			continue
		}
		wanted += f.Length()
		done += f.BytesCompleted()
	}
	switch {
	case wanted > 0:
		progress = percent(done, wanted)
	case t.Length() > 0:
		progress = percent(t.BytesCompleted(), t.Length())
	}
	return done, wanted, progress
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

func infoOf(t *torrent.Torrent) *metainfo.Info {
	if !torrentInfoReady(t) {
		return nil
	}
	return t.Info()
}

func percent(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(done) / float64(total) * 100
	if p > 100 {
		return 100
	}
	return p
}

func defaultTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://open.stealth.si:80/announce",
		"udp://exodus.desync.com:6969/announce",
		"udp://tracker.torrent.eu.org:451/announce",
		"http://nyaa.tracker.wf:7777/announce",
	}
}

var _ engine.Adapter = (*Engine)(nil)
