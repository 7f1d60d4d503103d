package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetLoopContext sets the context the background loop runs under when
// started over HTTP. Request contexts are unsuitable: the loop must
// outlive the request that started it.
func (s *Server) SetLoopContext(ctx context.Context) {
	s.loopCtx = ctx
}

func (s *Server) startReconciler(c *gin.Context) {
	ctx := s.loopCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.reconciler.Start(ctx); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) stopReconciler(c *gin.Context) {
	s.reconciler.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) runReconcilerCycle(c *gin.Context) {
	if err := s.reconciler.RunOneCycle(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.reconciler.GetStatus())
}

func (s *Server) getReconcilerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.reconciler.GetStatus())
}
