// Package search exposes the result index over a read-only HTTP API.
package search

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agrotrust/certkernel/pkg/store"
)

// Directory is the slice of the result index the API reads.
type Directory interface {
	GetEntity(ctx context.Context, entityID string) (store.EntityRecord, error)
	SearchEntities(ctx context.Context, q string) ([]store.EntityRecord, error)
	GetReceipt(ctx context.Context, entityID string) (store.ReceiptRecord, error)
}

// Server serves verdict and receipt lookups.
type Server struct {
	dir    Directory
	logger *slog.Logger
}

func NewServer(dir Directory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{dir: dir, logger: logger}
}

// Router builds the gin engine. Gin's release mode is the caller's concern.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.healthz)
	r.GET("/api/entities", s.listEntities)
	r.GET("/api/entities/:id", s.getEntity)
	r.GET("/api/entities/:id/receipt", s.getReceipt)
	return r
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listEntities(c *gin.Context) {
	q := c.Query("q")
	recs, err := s.dir.SearchEntities(c.Request.Context(), q)
	if err != nil {
		s.logger.Error("entity search failed", "q", q, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entities": entityViews(recs), "count": len(recs)})
}

func (s *Server) getEntity(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.dir.GetEntity(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "entity not found"})
			return
		}
		s.logger.Error("entity lookup failed", "entity", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, entityView(rec))
}

func (s *Server) getReceipt(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.dir.GetReceipt(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "receipt not found"})
			return
		}
		s.logger.Error("receipt lookup failed", "entity", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entity_id":    rec.EntityID,
		"tx_id":        rec.TxID,
		"block_number": rec.BlockNumber,
		"chain_id":     rec.ChainID,
		"status":       rec.Status,
		"run_id":       rec.RunID,
	})
}

func entityView(rec store.EntityRecord) gin.H {
	v := gin.H{
		"entity_id":  rec.EntityID,
		"status":     rec.Status,
		"regulation": rec.Regulation,
		"reasons":    rec.Reasons,
		"run_id":     rec.RunID,
	}
	if rec.Category != "" {
		v["category"] = rec.Category
	}
	if rec.CertifiedAt != nil {
		v["certified_at"] = rec.CertifiedAt
	}
	return v
}

func entityViews(recs []store.EntityRecord) []gin.H {
	out := make([]gin.H, 0, len(recs))
	for _, rec := range recs {
		out = append(out, entityView(rec))
	}
	return out
}
