package controller

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/strayline/roverctl/internal/observability"
	"github.com/strayline/roverctl/internal/policy"
)

// API is the operator surface: mission goal, manual override, and
// status inspection over HTTP.
type API struct {
	ctrl     *Controller
	router   *gin.Engine
	appeared time.Time
}

func NewAPI(ctrl *Controller, corsOrigins []string) *API {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	api := &API{ctrl: ctrl, router: r, appeared: time.Now()}
	api.registerRoutes()
	return api
}

func (a *API) Router() *gin.Engine { return a.router }

// Serve blocks on the HTTP listener.
func (a *API) Serve(addr string) error {
	return a.router.Run(addr)
}

func (a *API) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.appeared).String(),
			"service": "controld",
			"version": "0.0.1",
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/status", func(c *gin.Context) {
		state := a.ctrl.Decider().State()
		status := gin.H{
			"rovers": a.ctrl.Server().ConnCount(),
			"goal":   state.Goal(),
			"steps":  state.Steps(),
		}
		if conn := a.ctrl.Server().ActiveConn(); conn != nil {
			status["active_rover"] = gin.H{
				"id":             conn.ID,
				"remote":         conn.Remote,
				"last_frame":     conn.LastFrameTime(),
				"dropped_frames": conn.DroppedFrames(),
			}
		}
		c.JSON(http.StatusOK, status)
	})

	a.router.GET("/history", func(c *gin.Context) {
		entries := a.ctrl.Decider().State().History()
		out := make([]gin.H, 0, len(entries))
		for _, e := range entries {
			out = append(out, gin.H{
				"command":   e.Command.String(),
				"reasoning": e.Reasoning,
			})
		}
		c.JSON(http.StatusOK, gin.H{"history": out})
	})

	a.router.POST("/goal", func(c *gin.Context) {
		var req struct {
			Goal string `json:"goal" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		a.ctrl.Decider().State().SetGoal(req.Goal)
		log.Info().Str("goal", req.Goal).Msg("mission goal updated")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "goal": req.Goal})
	})

	a.router.POST("/pause", func(c *gin.Context) {
		var req struct {
			Paused *bool `json:"paused" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		a.ctrl.Pause(*req.Paused)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "paused": *req.Paused})
	})

	a.router.POST("/command", func(c *gin.Context) {
		var req struct {
			Command string `json:"command" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cmd, ok := policy.ParseManual(req.Command)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized command"})
			return
		}
		if err := a.ctrl.SendManual(cmd); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "command": cmd.String()})
	})
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
