package handler

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with CORS and all routes registered
func NewRouter(h *PriceHandler, allowOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.SetTrustedProxies(nil)

	if len(allowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     allowOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts /healthz and the /api/v1 group on r
func (h *PriceHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.Health)

	api := r.Group("/api/v1")
	{
		api.GET("/symbols", h.ListSymbols)
		api.POST("/symbols", h.Subscribe)
		api.DELETE("/symbols/:symbol", h.Unsubscribe)

		api.GET("/prices", h.GetPrices)
		api.GET("/prices/:symbol", h.GetPrice)

		api.GET("/metrics", h.GetMetrics)
	}
}
