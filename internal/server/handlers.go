package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketstream/internal/history"
	"marketstream/internal/market"
	"marketstream/internal/stream"
	"marketstream/internal/symbols"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 1000
	healthTimeout       = 2 * time.Second
)

type channelRequest struct {
	Symbol   string `json:"symbol" binding:"required"`
	Interval string `json:"interval" binding:"required"`
}

func (s *Server) handleStart(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and interval are required"})
		return
	}

	key := market.NewChannelKey(req.Symbol, req.Interval)
	if err := s.deps.Streams.EnsureConnection(key.Symbol, key.Interval); err != nil {
		s.abortStreamError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Started stream for " + key.String()})
}

func (s *Server) handleStop(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and interval are required"})
		return
	}

	key := market.NewChannelKey(req.Symbol, req.Interval)
	stopped := s.deps.Streams.Stop(key.Symbol, key.Interval)
	c.JSON(http.StatusOK, gin.H{
		"message": "Stopped stream for " + key.String(),
		"stopped": stopped,
	})
}

// handleStream relays live bars as server-sent events until the client goes away.
func (s *Server) handleStream(c *gin.Context) {
	symbol := c.Param("symbol")
	if q := c.Query("symbol"); q != "" {
		symbol = q
	}
	interval := c.Query("interval")
	if strings.TrimSpace(symbol) == "" || strings.TrimSpace(interval) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and interval are required"})
		return
	}

	ctx := c.Request.Context()
	sub, err := s.deps.Feed.Subscribe(ctx, symbol, interval)
	if err != nil {
		s.abortStreamError(c, err)
		return
	}
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Content-Type", "text/event-stream")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-s.closing:
			return false
		case <-sub.Done():
			return false
		case bar, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent("message", bar)
			return true
		}
	})

	if n := sub.Dropped(); n > 0 {
		s.logger.Info("stream client lagged",
			zap.String("channel", sub.Key().String()),
			zap.String("subscription", sub.ID()),
			zap.Uint64("dropped", n))
	}
}

func (s *Server) handleHistory(c *gin.Context) {
	q := history.Query{
		Symbol:   c.Param("symbol"),
		Interval: c.Query("interval"),
		Limit:    defaultHistoryLimit,
	}
	if strings.TrimSpace(q.Symbol) == "" || strings.TrimSpace(q.Interval) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and interval are required"})
		return
	}

	var err error
	if raw := c.Query("limit"); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}
	if q.StartTime, err = optionalMillis(c, "startTime"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.EndTime, err = optionalMillis(c, "endTime"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bars, err := s.deps.History.History(c.Request.Context(), q)
	switch {
	case err == nil:
	case errors.Is(err, market.ErrInvalidChannel):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, context.Canceled):
		c.Status(499) // client went away
		return
	default:
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	if bars == nil {
		bars = []market.Bar{}
	}
	c.JSON(http.StatusOK, bars)
}

func (s *Server) handleSymbols(c *gin.Context) {
	var req symbols.PageRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := req.Normalize()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := s.deps.Catalog.List(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list symbols"})
		return
	}
	if len(page.Content) == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}

func (s *Server) abortStreamError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, market.ErrInvalidChannel):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, stream.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func optionalMillis(c *gin.Context, name string) (*int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s", name)
	}
	return &v, nil
}
