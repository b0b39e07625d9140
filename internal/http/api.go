package http

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"magnet-queue/internal/domain"
	"magnet-queue/internal/metrics"
	"magnet-queue/internal/release"
	"magnet-queue/internal/service"
)

// MatchDefaults fill in the release query fields a caller leaves empty.
type MatchDefaults struct {
	Resolution string
	Excluded   []string
	Codecs     []string
}

type Options struct {
	JWTSecret string
	Match     MatchDefaults
	Logger    *logrus.Logger
}

var _ service.Broadcaster = (*Hub)(nil)

// Handler wires HTTP routes to domain services.
type Handler struct {
	items  service.ItemService
	hub    *Hub
	opts   Options
	logger *logrus.Logger
}

func NewHandler(items service.ItemService, hub *Hub, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Handler{
		items:  items,
		hub:    hub,
		opts:   opts,
		logger: opts.Logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	// Item names may contain escaped slashes.
	router.UseRawPath = true
	router.Use(corsMiddleware(), metricsMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})
	if h.opts.JWTSecret != "" {
		api.Use(jwtMiddleware(h.opts.JWTSecret))
	}
	{
		api.POST("/items", h.createItem)
		api.GET("/items", h.listItems)
		api.GET("/items/:name", h.getItem)
		api.DELETE("/items/:name", h.deleteItem)
		api.POST("/items/:name/pause", h.pauseItem)
		api.POST("/items/:name/resume", h.resumeItem)
		api.PUT("/items/:name/files/:index/priority", h.setFilePriority)
		api.POST("/match", h.matchRelease)
		if h.hub != nil {
			api.GET("/events", h.hub.ServeWS)
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

type itemResponse struct {
	Name            string         `json:"name"`
	Source          string         `json:"source"`
	DestinationPath string         `json:"destination_path"`
	State           string         `json:"state"`
	Progress        float64        `json:"progress"`
	DownloadRate    int64          `json:"download_rate"`
	UploadRate      int64          `json:"upload_rate"`
	PeerCount       int            `json:"peer_count"`
	SeedCount       int            `json:"seed_count"`
	ETASeconds      int64          `json:"eta_seconds"`
	TotalSize       int64          `json:"total_size"`
	HasMetadata     bool           `json:"has_metadata"`
	AddedAt         time.Time      `json:"added_at"`
	Files           []fileResponse `json:"files,omitempty"`
}

type fileResponse struct {
	Index     int     `json:"index"`
	Name      string  `json:"name"`
	Path      string  `json:"path"`
	Size      int64   `json:"size"`
	Progress  float64 `json:"progress"`
	Priority  string  `json:"priority"`
	Remaining int64   `json:"remaining"`
}

func toItemResponse(item domain.DownloadItem) itemResponse {
	resp := itemResponse{
		Name:            item.Name,
		Source:          item.Source,
		DestinationPath: item.DestinationPath,
		State:           string(item.State),
		Progress:        item.Progress,
		DownloadRate:    item.DownloadRate,
		UploadRate:      item.UploadRate,
		PeerCount:       item.PeerCount,
		SeedCount:       item.SeedCount,
		ETASeconds:      item.ETASeconds,
		TotalSize:       item.TotalSize,
		HasMetadata:     item.HasMetadata,
		AddedAt:         item.AddedAt,
	}
	for i, f := range item.Files {
		resp.Files = append(resp.Files, fileResponse{
			Index:     i,
			Name:      f.Name,
			Path:      f.Path,
			Size:      f.Size,
			Progress:  f.Progress,
			Priority:  string(f.Priority),
			Remaining: f.Remaining,
		})
	}
	return resp
}

func (h *Handler) createItem(c *gin.Context) {
	var req service.AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.items.AddItem(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"name":             record.Name,
		"source":           record.Source,
		"destination_path": record.DestinationPath,
		"desired_state":    record.DesiredState,
	})
}

func (h *Handler) listItems(c *gin.Context) {
	items, err := h.items.ListItems(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	if state := strings.TrimSpace(c.Query("state")); state != "" {
		filtered := items[:0]
		for _, item := range items {
			if strings.EqualFold(string(item.State), state) {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	resp := make([]itemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toItemResponse(item))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getItem(c *gin.Context) {
	name := c.Param("name")
	items, err := h.items.ListItems(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	for _, item := range items {
		if item.Name == name {
			c.JSON(http.StatusOK, toItemResponse(item))
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
}

func (h *Handler) deleteItem(c *gin.Context) {
	deleteFiles, _ := strconv.ParseBool(c.DefaultQuery("delete_files", "false"))
	if err := h.items.RemoveItem(c.Request.Context(), c.Param("name"), deleteFiles); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "removing"})
}

func (h *Handler) pauseItem(c *gin.Context) {
	if err := h.items.PauseItem(c.Request.Context(), c.Param("name")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "pausing"})
}

func (h *Handler) resumeItem(c *gin.Context) {
	if err := h.items.ResumeItem(c.Request.Context(), c.Param("name")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "resuming"})
}

type priorityRequest struct {
	Priority string `json:"priority" binding:"required"`
}

func (h *Handler) setFilePriority(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file index"})
		return
	}
	var req priorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prio, err := domain.ParsePriority(req.Priority)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.items.SetFilePriority(c.Request.Context(), c.Param("name"), index, prio); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "updating"})
}

type matchRequest struct {
	release.Query
	Candidates []release.Candidate `json:"candidates"`
	// Fallback "smallest" picks the smallest candidate when no rule matches.
	Fallback     string `json:"fallback"`
	Alternatives int    `json:"alternatives"`
}

func (h *Handler) matchRelease(c *gin.Context) {
	var req matchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q := h.withDefaults(req.Query)
	candidates := release.Dedupe(req.Candidates)

	match, err := release.Match(q, candidates)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"match": match, "method": "rules"})
		return
	}
	if !errors.Is(err, domain.ErrNoMatchFound) {
		h.writeError(c, err)
		return
	}

	if strings.EqualFold(req.Fallback, "smallest") {
		if smallest, serr := release.Smallest(candidates); serr == nil {
			c.JSON(http.StatusOK, gin.H{"match": smallest, "method": "smallest"})
			return
		}
	}

	limit := req.Alternatives
	if limit <= 0 {
		limit = 5
	}
	c.JSON(http.StatusNotFound, gin.H{
		"error":        err.Error(),
		"alternatives": release.Alternatives(q, candidates, limit),
	})
}

func (h *Handler) withDefaults(q release.Query) release.Query {
	if q.Resolution == "" {
		q.Resolution = h.opts.Match.Resolution
	}
	if q.Excluded == nil {
		q.Excluded = h.opts.Match.Excluded
	}
	if q.Codecs == nil {
		q.Codecs = h.opts.Match.Codecs
	}
	return q
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoMatchFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrEngineRejected):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrQueueFull), errors.Is(err, domain.ErrStopped):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
