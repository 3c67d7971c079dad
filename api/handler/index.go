package handler

import (
	"context"
	"net/http"

	"github.com/fyerfyer/aven-ingest/api/middleware"
	"github.com/fyerfyer/aven-ingest/api/model"
	"github.com/fyerfyer/aven-ingest/internal/models"
	"github.com/fyerfyer/aven-ingest/internal/vectordb"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// IndexService 处理器依赖的索引操作，vectordb.Store 满足该接口
type IndexService interface {
	Stats(ctx context.Context) (models.CollectionStats, error)
	Query(ctx context.Context, text string, k int) ([]vectordb.SearchResult, error)
}

// IndexHandler 处理索引相关的API请求
type IndexHandler struct {
	index      IndexService   // 索引服务
	collection string         // 集合名称
	logger     *logrus.Logger // 日志记录器
}

// NewIndexHandler 创建新的索引处理器
func NewIndexHandler(index IndexService, collection string) *IndexHandler {
	return &IndexHandler{
		index:      index,
		collection: collection,
		logger:     middleware.GetLogger(),
	}
}

// Health 健康检查
// GET /api/health
func (h *IndexHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, model.HealthResponse{
		Status:     "ok",
		Collection: h.collection,
	})
}

// Stats 获取集合统计
// GET /api/stats
func (h *IndexHandler) Stats(c *gin.Context) {
	stats, err := h.index.Stats(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get collection stats")
		middleware.HandleError(c, middleware.NewInternalError("failed to get collection stats", err.Error()))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(stats))
}

// Query 相似度查询
// POST /api/query
func (h *IndexHandler) Query(c *gin.Context) {
	var req model.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Warn("Invalid query request")

		middleware.HandleError(c, middleware.NewValidationError("invalid request parameters", err.Error()))
		return
	}

	k := req.GetK(vectordb.DefaultTopK)
	h.logger.WithFields(logrus.Fields{
		"query": req.Query,
		"k":     k,
	}).Info("Query request")

	results, err := h.index.Query(c.Request.Context(), req.Query, k)
	if err != nil {
		h.logger.WithError(err).WithField("query", req.Query).Error("Query failed")
		middleware.HandleError(c, middleware.NewInternalError("query failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.QueryResponse{
		Query:   req.Query,
		Results: model.ConvertToHits(results),
	}))
}
