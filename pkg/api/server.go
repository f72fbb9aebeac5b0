package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"avaneesh/shotxfer/pkg/chunk"
	"avaneesh/shotxfer/pkg/endpoint"
	"avaneesh/shotxfer/pkg/internal/logger"
	"avaneesh/shotxfer/pkg/shotxfer"
	"avaneesh/shotxfer/pkg/store"
	"avaneesh/shotxfer/pkg/types"
)

// Node is the part of a manager the API inspects and drives.
// *shotxfer.Manager implements it.
type Node interface {
	Statistics() shotxfer.Statistics
	InFlight() map[string][]chunk.TransferInfo
	RequestScreenshot(ctx context.Context, from string, peer types.PeerIdentity) error
}

// Server serves the inspection API
type Server struct {
	engine *gin.Engine
	node   Node
	store  store.Store
	self   string
	logger logger.Logger

	httpServer *http.Server
}

type errorResponse struct {
	Error string `json:"error"`
}

type captureRequest struct {
	Address string `json:"address"`
}

// New creates an API server. self is the local endpoint that issues capture
// requests. A nil store disables the screenshot routes.
func New(node Node, st store.Store, self string, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	s := &Server{
		engine: gin.New(),
		node:   node,
		store:  st,
		self:   self,
		logger: log,
	}

	s.engine.Use(gin.Recovery(), s.logRequests)

	api := s.engine.Group("/api")
	api.GET("/stats", s.getStats)
	api.GET("/transfers", s.getTransfers)
	api.GET("/screenshots", s.listScreenshots)
	api.GET("/screenshots/:key", s.getScreenshot)
	api.GET("/screenshots/:key/image", s.getScreenshotImage)
	api.POST("/peers/:id/capture", s.requestCapture)

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until Shutdown
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("API: listening on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("API: %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.node.Statistics())
}

func (s *Server) getTransfers(c *gin.Context) {
	c.JSON(http.StatusOK, s.node.InFlight())
}

func (s *Server) listScreenshots(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	records, err := s.store.List(c.Request.Context(), limit)
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) getScreenshot(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}

	rec, err := s.store.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) getScreenshotImage(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}

	rec, err := s.store.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	if rec.Payload == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "capture failed, no image"})
		return
	}

	mediaType, data, err := endpoint.DecodeDataURL(*rec.Payload)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}
	c.Data(http.StatusOK, mediaType, data)
}

func (s *Server) requestCapture(c *gin.Context) {
	var body captureRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}

	from := c.DefaultQuery("from", s.self)
	peer := types.NewPeerIdentity(c.Param("id"), body.Address)

	if err := s.node.RequestScreenshot(c.Request.Context(), from, peer); err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, shotxfer.ErrUnknownEndpoint):
			status = http.StatusNotFound
		case errors.Is(err, types.ErrEmptyPeerID):
			status = http.StatusBadRequest
		}
		c.JSON(status, errorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "requested", "from": from, "peer": peer})
}

func (s *Server) requireStore(c *gin.Context) bool {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "no screenshot store configured"})
		return false
	}
	return true
}

func (s *Server) storeError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	s.logger.Error("API: store: %v", err)
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "store unavailable"})
}
