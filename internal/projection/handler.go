package projection

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	httperr "github.com/statkit/statkit/internal/core/errors"
)

// RegisterRoutes registers all projection API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/stats/:aggregation", s.HandleQueryStats)
	r.GET("/v1/stats/:aggregation/top", s.HandleTopDimensions)
}

// HandleQueryStats handles GET /v1/stats/:aggregation
// Query parameters: start, end, dimension, granularity
func (s *Service) HandleQueryStats(c *gin.Context) {
	var uri struct {
		Aggregation string `uri:"aggregation" binding:"required"`
	}
	var query struct {
		Start       time.Time `form:"start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		End         time.Time `form:"end" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		Dimension   string    `form:"dimension"`
		Granularity string    `form:"granularity"`
	}

	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	resp, err := s.QueryStats(c.Request.Context(), StatsQueryRequest{
		Aggregation: uri.Aggregation,
		Start:       query.Start,
		End:         query.End,
		Dimension:   query.Dimension,
		Granularity: query.Granularity,
	})
	if err != nil {
		writeQueryError(c, err, "Failed to query stats")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// HandleTopDimensions handles GET /v1/stats/:aggregation/top
// Query parameters: start, end, limit
func (s *Service) HandleTopDimensions(c *gin.Context) {
	var uri struct {
		Aggregation string `uri:"aggregation" binding:"required"`
	}
	var query struct {
		Start time.Time `form:"start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		End   time.Time `form:"end" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		Limit int       `form:"limit"`
	}

	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	resp, err := s.TopDimensions(c.Request.Context(), TopQueryRequest{
		Aggregation: uri.Aggregation,
		Start:       query.Start,
		End:         query.End,
		Limit:       query.Limit,
	})
	if err != nil {
		writeQueryError(c, err, "Failed to query top dimensions")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// writeQueryError maps service errors onto HTTP statuses: validation
// failures and unknown aggregations are client errors, everything else is a
// 500.
func writeQueryError(c *gin.Context, err error, internalMsg string) {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid stats query",
			Details:   err.Error(),
		})
	case errors.Is(err, ErrUnknownAggregation):
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpUnknownTargetError,
			Message:   "Aggregation is not registered",
			Details:   err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   internalMsg,
			Details:   err.Error(),
		})
	}
}
