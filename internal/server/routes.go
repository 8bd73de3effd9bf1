package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/embedsrv/embedsrv/internal/util"
	"github.com/embedsrv/embedsrv/pkg/embedsrv"
)

// registerRoutes wires the four HTTP endpoints onto router, matching
// the shape setupRoutes gives the rest of the pack's gin servers.
func (s *Server) registerRoutes() {
	s.router.POST("/v1/embeddings", s.handleEmbeddings)
	s.router.GET("/v1/models", s.handleListModels)
	s.router.GET("/v1/models/:model_id", s.handleGetModel)
	s.router.GET("/health", s.handleHealth)
}

func (s *Server) handleEmbeddings(c *gin.Context) {
	var req embedsrv.EmbeddingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	client, ok := s.state.Lookup(req.Model)
	if !ok {
		util.FromContext(c.Request.Context()).Warn("model not found", "model", req.Model)
		c.JSON(http.StatusNotFound, gin.H{"error": "Model not found"})
		return
	}

	resp, err := client.SendAndAwait(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListModels(c *gin.Context) {
	c.JSON(http.StatusOK, embedsrv.ModelCardList{
		Object: "list",
		Data:   s.state.ModelCards(),
	})
}

func (s *Server) handleGetModel(c *gin.Context) {
	id := c.Param("model_id")
	card, ok := s.state.ModelCard(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Model not found"})
		return
	}
	c.JSON(http.StatusOK, card)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.Status(http.StatusOK)
}

// writeError maps an EmbedError to its HTTP status; anything else
// falls back to 500. Every error on the inference path is wrapped as
// an EmbedError, so that fallback should not normally trigger.
func writeError(c *gin.Context, err error) {
	if ee, ok := err.(*util.EmbedError); ok {
		c.JSON(ee.Kind.HTTPStatus(), gin.H{"error": ee.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
