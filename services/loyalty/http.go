package loyalty

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"boutique-loyalty/pkg/db/pagination"
	"boutique-loyalty/services/tier"
)

type orderPointsRequest struct {
	OrderID    string `json:"order_id" binding:"required"`
	OrderTotal int64  `json:"order_total" binding:"min=0"`
}

type reviewPointsRequest struct {
	ProductID string `json:"product_id" binding:"required"`
}

// RegisterRoutes exposes the loyalty summary, history and award triggers.
func RegisterRoutes(r *gin.Engine, s *Service) {
	r.GET("/v1/tiers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tiers": tier.All()})
	})

	r.GET("/v1/loyalty/:user_id", func(c *gin.Context) {
		summary, err := s.GetSummary(c.Request.Context(), c.Param("user_id"))
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	r.GET("/v1/loyalty/:user_id/history", func(c *gin.Context) {
		var p pagination.Pagination
		if err := c.ShouldBindQuery(&p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		entries, pageInfo, err := s.History(c.Request.Context(), c.Param("user_id"), p)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries, "page_info": pageInfo})
	})

	r.POST("/v1/loyalty/:user_id/signup-bonus", func(c *gin.Context) {
		entry, err := s.AwardSignupBonus(c.Request.Context(), c.Param("user_id"))
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"entry": entry})
	})

	r.POST("/v1/loyalty/:user_id/order-points", func(c *gin.Context) {
		var req orderPointsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		entry, err := s.AwardOrderPoints(c.Request.Context(), c.Param("user_id"), req.OrderID, req.OrderTotal)
		if err != nil {
			c.Error(err)
			return
		}
		if entry == nil {
			c.JSON(http.StatusOK, gin.H{"entry": nil, "skipped": true})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"entry": entry})
	})

	r.POST("/v1/loyalty/:user_id/review-points", func(c *gin.Context) {
		var req reviewPointsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		entry, err := s.AwardReviewPoints(c.Request.Context(), c.Param("user_id"), req.ProductID)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"entry": entry})
	})
}
