package ops

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luma/msgr/registry"
)

const jsonContentType = "application/json; charset=utf-8"

// Source is what the router reports on, usually a *transport.TCP.
type Source interface {
	Snapshot() ([]byte, error)
	Registry() registry.Registry
}

// NewRouter serves the ops endpoints of the server:
//
//   GET /ping              liveness
//   GET /connections       every running connection
//   GET /connections/:id   a single connection
//
func NewRouter(debugHTTP bool, log *zap.Logger, source Source) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs all requests, RFC3339 with UTC time format
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/connections", func(c *gin.Context) {
		doc, err := source.Snapshot()
		if err != nil {
			log.Error("Failed to snapshot connections", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Data(http.StatusOK, jsonContentType, doc)
	})

	r.GET("/connections/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
			return
		}

		// Refreshes the traffic counters
		if _, err := source.Snapshot(); err != nil {
			log.Warn("Failed to snapshot connections", zap.Error(err))
		}

		record, err := source.Registry().Get(id)
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		} else if err != nil {
			log.Error("Failed to read connection", zap.Uint64("conn", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Data(http.StatusOK, jsonContentType, record)
	})

	return r
}
