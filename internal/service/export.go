package service

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"magnet-queue/internal/domain"
	"magnet-queue/internal/metrics"
	"magnet-queue/internal/storage"
)

func (s *itemService) exportPrefix(name string) string {
	prefix := strings.Trim(s.cfg.Export.KeyPrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// export uploads a completed item's content and, when removeLocal is set,
// deletes the local copy afterwards.
func (s *itemService) export(ctx context.Context, record domain.ItemRecord, removeLocal bool) {
	logger := s.log.WithField("item", record.Name)

	progressLogger := newUploadProgressLogger(logger)
	opts := storage.ExportOptions{
		Bucket:           s.cfg.Export.Bucket,
		KeyPrefix:        s.exportPrefix(record.Name),
		ProgressCallback: progressLogger,
	}

	logger.Infof("export started from %s", record.DestinationPath)
	dest, err := s.exporter.Export(ctx, record.DestinationPath, opts)
	if err != nil {
		metrics.ExportsTotal.WithLabelValues("failed").Inc()
		logger.Errorf("export: %v", err)
		if s.hub != nil {
			s.hub.Broadcast(string(domain.NotifyError), domain.Notification{
				Kind:    domain.NotifyError,
				Name:    record.Name,
				Message: "export: " + err.Error(),
				At:      time.Now(),
			})
		}
		return
	}
	metrics.ExportsTotal.WithLabelValues("succeeded").Inc()

	if removeLocal {
		if err := os.RemoveAll(record.DestinationPath); err != nil {
			logger.Warnf("cleanup download dir: %v", err)
		}
	}
	logger.Infof("item exported to %s", dest)
}

func newUploadProgressLogger(logger *logrus.Entry) func(done, total int64) {
	var lastLog time.Time
	return func(done, total int64) {
		now := time.Now()
		if now.Sub(lastLog) < 500*time.Millisecond && done != total {
			return
		}
		lastLog = now
		if total == 0 {
			logger.Infof("export progress: %s uploaded", humanize.IBytes(uint64(done)))
			return
		}
		percent := float64(done) / float64(total) * 100
		logger.Infof("export progress: %.1f%% (%s/%s)", percent, humanize.IBytes(uint64(done)), humanize.IBytes(uint64(total)))
	}
}
