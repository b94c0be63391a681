package reward

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type redeemRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type createRequest struct {
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description"`
	PointsCost  int64      `json:"points_cost" binding:"required"`
	Type        RewardType `json:"type" binding:"required"`
	Value       int64      `json:"value"`
	Stock       *int64     `json:"stock"`
	ValidDays   int        `json:"valid_days"`
}

type updateRequest struct {
	Title       *string     `json:"title"`
	Description *string     `json:"description"`
	PointsCost  *int64      `json:"points_cost"`
	Type        *RewardType `json:"type"`
	Value       *int64      `json:"value"`
	Stock       *int64      `json:"stock"`
	ClearStock  bool        `json:"clear_stock"`
	ValidDays   *int        `json:"valid_days"`
	IsActive    *bool       `json:"is_active"`
}

// RegisterRoutes exposes the reward catalog, redemption and grant endpoints.
func RegisterRoutes(r *gin.Engine, s *Service) {
	r.GET("/v1/rewards", func(c *gin.Context) {
		rewards, err := s.ListActive(c.Request.Context())
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rewards": rewards})
	})

	r.POST("/v1/rewards/:reward_id/redeem", func(c *gin.Context) {
		var req redeemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		grant, err := s.Redeem(c.Request.Context(), req.UserID, c.Param("reward_id"))
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"user_reward": grant})
	})

	r.GET("/v1/loyalty/:user_id/rewards", func(c *gin.Context) {
		activeOnly := c.Query("active") == "true"
		grants, err := s.ListGrants(c.Request.Context(), c.Param("user_id"), activeOnly)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_rewards": grants})
	})

	r.POST("/v1/loyalty/:user_id/rewards/:grant_id/use", func(c *gin.Context) {
		grant, err := s.UseGrant(c.Request.Context(), c.Param("user_id"), c.Param("grant_id"))
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_reward": grant})
	})

	admin := r.Group("/v1/admin/rewards")
	{
		admin.GET("", func(c *gin.Context) {
			rewards, err := s.ListAll(c.Request.Context())
			if err != nil {
				c.Error(err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"rewards": rewards})
		})

		admin.POST("", func(c *gin.Context) {
			var req createRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			reward, err := s.Create(c.Request.Context(), CreateParams{
				Title:       req.Title,
				Description: req.Description,
				PointsCost:  req.PointsCost,
				Type:        req.Type,
				Value:       req.Value,
				Stock:       req.Stock,
				ValidDays:   req.ValidDays,
			})
			if err != nil {
				c.Error(err)
				return
			}
			c.JSON(http.StatusCreated, reward)
		})

		admin.GET("/:reward_id", func(c *gin.Context) {
			reward, err := s.Get(c.Request.Context(), c.Param("reward_id"))
			if err != nil {
				c.Error(err)
				return
			}
			c.JSON(http.StatusOK, reward)
		})

		admin.PATCH("/:reward_id", func(c *gin.Context) {
			var req updateRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			reward, err := s.Update(c.Request.Context(), c.Param("reward_id"), UpdateParams{
				Title:       req.Title,
				Description: req.Description,
				PointsCost:  req.PointsCost,
				Type:        req.Type,
				Value:       req.Value,
				Stock:       req.Stock,
				ClearStock:  req.ClearStock,
				ValidDays:   req.ValidDays,
				IsActive:    req.IsActive,
			})
			if err != nil {
				c.Error(err)
				return
			}
			c.JSON(http.StatusOK, reward)
		})

		admin.DELETE("/:reward_id", func(c *gin.Context) {
			if err := s.Delete(c.Request.Context(), c.Param("reward_id")); err != nil {
				c.Error(err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"message": "reward deleted"})
		})
	}
}
