package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/sirupsen/logrus"

	"magnet-queue/internal/domain"
	"magnet-queue/internal/downloader"
	"magnet-queue/internal/metrics"
	"magnet-queue/internal/repository"
	"magnet-queue/internal/storage"
)

// Scheduler is the part of the download manager the service drives.
type Scheduler interface {
	Submit(cmd domain.Command) error
	List(ctx context.Context) ([]domain.DownloadItem, error)
	Notifications() <-chan domain.Notification
	Policy() downloader.CompletionPolicy
}

// Broadcaster fans notifications out to live clients.
type Broadcaster interface {
	Broadcast(msgType string, data any)
}

// ItemService persists caller-owned item metadata and forwards user
// intent to the scheduler.
type ItemService interface {
	AddItem(ctx context.Context, req AddRequest) (*domain.ItemRecord, error)
	RemoveItem(ctx context.Context, name string, deleteFiles bool) error
	PauseItem(ctx context.Context, name string) error
	ResumeItem(ctx context.Context, name string) error
	SetFilePriority(ctx context.Context, name string, fileIndex int, prio domain.Priority) error
	ListItems(ctx context.Context) ([]domain.DownloadItem, error)
	Restore(ctx context.Context) (int, error)
	Watch(ctx context.Context) error
}

type AddRequest struct {
	Name            string `json:"name"`
	Source          string `json:"source"`
	DestinationPath string `json:"destination_path"`
	Paused          bool   `json:"paused"`
}

type ExportConfig struct {
	Enabled     bool
	Bucket      string
	KeyPrefix   string
	Concurrency int
}

type Config struct {
	DataRoot         string
	Export           ExportConfig
	SnapshotInterval time.Duration
	RetryInterval    time.Duration
	Logger           *logrus.Logger
}

type itemService struct {
	cfg      Config
	sched    Scheduler
	items    repository.ItemRepository
	exporter storage.Exporter
	hub      Broadcaster
	log      *logrus.Logger

	sem     chan struct{}
	exports sync.WaitGroup
}

func NewItemService(cfg Config, sched Scheduler, items repository.ItemRepository, exporter storage.Exporter, hub Broadcaster) ItemService {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	if cfg.Export.Concurrency <= 0 {
		cfg.Export.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if exporter == nil {
		cfg.Export.Enabled = false
	}
	return &itemService{
		cfg:      cfg,
		sched:    sched,
		items:    items,
		exporter: exporter,
		hub:      hub,
		log:      cfg.Logger,
		sem:      make(chan struct{}, cfg.Export.Concurrency),
	}
}

func (s *itemService) AddItem(ctx context.Context, req AddRequest) (*domain.ItemRecord, error) {
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return nil, fmt.Errorf("source is required: %w", domain.ErrInvalidInput)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		derived, err := nameFromSource(source)
		if err != nil {
			return nil, err
		}
		name = derived
	}

	if _, err := s.items.Get(ctx, name); err == nil {
		return nil, fmt.Errorf("item %q already exists: %w", name, domain.ErrEngineRejected)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	dest := strings.TrimSpace(req.DestinationPath)
	if dest == "" {
		dest = filepath.Join(s.cfg.DataRoot, name)
	}
	desired := domain.StateDownloading
	if req.Paused {
		desired = domain.StatePaused
	}
	record := &domain.ItemRecord{
		Name:            name,
		Source:          source,
		DestinationPath: dest,
		DesiredState:    desired,
	}
	if err := s.items.Upsert(ctx, record); err != nil {
		return nil, err
	}

	result := make(chan error, 1)
	err := s.submit(domain.AddCommand{
		Name:            name,
		Source:          source,
		DestinationPath: dest,
		Paused:          req.Paused,
		Result:          result,
	})
	if err == nil {
		select {
		case err = <-result:
		case <-ctx.Done():
			// The scheduler still owns the command; keep the record.
			return nil, ctx.Err()
		}
	}
	if err != nil {
		if delErr := s.items.Delete(ctx, name); delErr != nil {
			s.log.WithField("item", name).Warnf("roll back item record: %v", delErr)
		}
		return nil, err
	}
	return record, nil
}

func (s *itemService) RemoveItem(ctx context.Context, name string, deleteFiles bool) error {
	if _, err := s.items.Get(ctx, name); err != nil {
		return err
	}
	if err := s.submit(domain.RemoveCommand{Name: name, DeleteFiles: deleteFiles}); err != nil {
		return err
	}
	if err := s.items.Delete(ctx, name); err != nil {
		return err
	}
	if deleteFiles && s.cfg.Export.Enabled {
		if err := s.exporter.DeletePrefix(ctx, s.cfg.Export.Bucket, s.exportPrefix(name)+"/"); err != nil {
			s.log.WithField("item", name).Warnf("delete exported copy: %v", err)
		}
	}
	return nil
}

func (s *itemService) PauseItem(ctx context.Context, name string) error {
	return s.setDesired(ctx, name, domain.PauseCommand{Name: name}, domain.StatePaused)
}

func (s *itemService) ResumeItem(ctx context.Context, name string) error {
	return s.setDesired(ctx, name, domain.ResumeCommand{Name: name}, domain.StateDownloading)
}

func (s *itemService) setDesired(ctx context.Context, name string, cmd domain.Command, state domain.ItemState) error {
	if _, err := s.items.Get(ctx, name); err != nil {
		return err
	}
	if err := s.submit(cmd); err != nil {
		return err
	}
	return s.items.UpdateDesiredState(ctx, name, state)
}

func (s *itemService) SetFilePriority(ctx context.Context, name string, fileIndex int, prio domain.Priority) error {
	if fileIndex < 0 {
		return fmt.Errorf("file index %d: %w", fileIndex, domain.ErrInvalidInput)
	}
	if _, err := s.items.Get(ctx, name); err != nil {
		return err
	}
	return s.submit(domain.SetPriorityCommand{Name: name, FileIndex: fileIndex, Priority: prio})
}

func (s *itemService) ListItems(ctx context.Context) ([]domain.DownloadItem, error) {
	return s.sched.List(ctx)
}

// Restore re-adds every persisted item. Completed items are left alone.
// It waits out a full command queue, so it may run alongside the scheduler.
func (s *itemService) Restore(ctx context.Context) (int, error) {
	records, err := s.items.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list items: %w", err)
	}
	restored := 0
	for _, record := range records {
		if record.DesiredState == domain.StateCompleted {
			continue
		}
		cmd := domain.AddCommand{
			Name:            record.Name,
			Source:          record.Source,
			DestinationPath: record.DestinationPath,
			Paused:          record.DesiredState == domain.StatePaused,
		}
		if err := s.submitWait(ctx, cmd); err != nil {
			return restored, fmt.Errorf("restore %q: %w", record.Name, err)
		}
		restored++
	}
	s.log.Infof("restored %d items", restored)
	return restored, nil
}

// Watch consumes scheduler notifications until the scheduler closes its
// channel, then waits for in-flight exports.
func (s *itemService) Watch(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()
	defer s.exports.Wait()

	notifications := s.sched.Notifications()
	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			s.handleNotification(ctx, n)
		case <-ticker.C:
			s.observe(ctx)
		}
	}
}

func (s *itemService) observe(ctx context.Context) {
	items, err := s.sched.List(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrStopped) && !errors.Is(err, context.Canceled) {
			s.log.Debugf("snapshot for metrics: %v", err)
		}
		return
	}
	metrics.ObserveItems(items)
}

func (s *itemService) handleNotification(ctx context.Context, n domain.Notification) {
	metrics.NotificationsTotal.WithLabelValues(string(n.Kind)).Inc()
	if s.hub != nil {
		s.hub.Broadcast(string(n.Kind), n)
	}

	logger := s.log.WithField("item", n.Name)
	switch n.Kind {
	case domain.NotifyError:
		logger.Warnf("scheduler error: %s", n.Message)
	case domain.NotifyCompleted:
		logger.Info("download completed")
		s.complete(ctx, n.Name)
	}
}

func (s *itemService) complete(ctx context.Context, name string) {
	record, err := s.items.Get(ctx, name)
	if err != nil {
		s.log.WithField("item", name).Warnf("load completed item: %v", err)
		return
	}

	policy := s.sched.Policy()
	switch policy {
	case downloader.CompletionRemove:
		err = s.items.Delete(ctx, name)
	case downloader.CompletionRetain:
		err = s.items.UpdateDesiredState(ctx, name, domain.StateCompleted)
	}
	if err != nil {
		s.log.WithField("item", name).Warnf("update completed item: %v", err)
	}

	if s.cfg.Export.Enabled {
		s.exports.Add(1)
		go func() {
			defer s.exports.Done()
			s.sem <- struct{}{}
			defer func() { <-s.sem }()
			s.export(ctx, *record, policy != downloader.CompletionSeed)
		}()
	}
}

func (s *itemService) submit(cmd domain.Command) error {
	err := s.sched.Submit(cmd)
	result := "accepted"
	if err != nil {
		result = "rejected"
	}
	metrics.CommandsTotal.WithLabelValues(commandKind(cmd), result).Inc()
	return err
}

func (s *itemService) submitWait(ctx context.Context, cmd domain.Command) error {
	for {
		err := s.submit(cmd)
		if !errors.Is(err, domain.ErrQueueFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.RetryInterval):
		}
	}
}

func commandKind(cmd domain.Command) string {
	switch cmd.(type) {
	case domain.AddCommand:
		return "add"
	case domain.RemoveCommand:
		return "remove"
	case domain.PauseCommand:
		return "pause"
	case domain.ResumeCommand:
		return "resume"
	case domain.SetPriorityCommand:
		return "set_priority"
	default:
		return "other"
	}
}

// nameFromSource derives an item name from a magnet display name, falling
// back to the info hash.
func nameFromSource(source string) (string, error) {
	m, err := metainfo.ParseMagnetUri(source)
	if err != nil {
		return "", fmt.Errorf("name is required for non-magnet sources (%v): %w", err, domain.ErrInvalidInput)
	}
	if name := strings.TrimSpace(m.DisplayName); name != "" {
		return name, nil
	}
	return m.InfoHash.HexString(), nil
}
