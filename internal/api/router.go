package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jengzang/hexmap-backend-go/internal/config"
	"github.com/jengzang/hexmap-backend-go/internal/handler"
	"github.com/jengzang/hexmap-backend-go/internal/middleware"
	"github.com/jengzang/hexmap-backend-go/internal/service"
)

// Services bundles what the router serves
type Services struct {
	Layers   *service.LayerService
	Sessions *service.SessionStore
	Limiter  *middleware.RateLimiter // nil disables rate limiting
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Content-Encoding", "Authorization"},
		ExposeHeaders: []string{"X-Resolution", "X-In-View", "X-Capped"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, svc Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{`/stream$`, `/metrics$`})))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Hexmap Backend API is running",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	layerHandler := handler.NewLayerHandler(svc.Layers)
	sessionHandler := handler.NewSessionHandler(svc.Sessions)
	adminHandler := handler.NewAdminHandler(svc.Layers)

	// API 路由组
	api := r.Group("/api/v1")
	if svc.Limiter != nil {
		api.Use(middleware.RateLimit(svc.Limiter))
	}
	{
		layers := api.Group("/layers")
		{
			layers.GET("", layerHandler.ListLayers)
			layers.GET("/:name", layerHandler.GetLayer)
			layers.GET("/:name/aggregate", layerHandler.GetAggregate)
			layers.GET("/:name/hotspots", layerHandler.GetHotspots)
			layers.GET("/:name/cells.geojson", layerHandler.GetCellsGeoJSON)
		}

		sessions := api.Group("/sessions")
		{
			sessions.GET("", sessionHandler.ListSessions)
			sessions.POST("", sessionHandler.CreateSession)
			sessions.GET("/:id", sessionHandler.GetSession)
			sessions.DELETE("/:id", sessionHandler.DeleteSession)
			sessions.POST("/:id/draw", sessionHandler.Draw)
			sessions.GET("/:id/stream", sessionHandler.Stream)
		}

		admin := api.Group("/admin", middleware.Auth(cfg.JWTSecret))
		{
			admin.POST("/layers/:name/import", adminHandler.ImportLayer)
			admin.POST("/layers/:name/reload", adminHandler.ReloadLayer)
		}
	}

	return r
}
