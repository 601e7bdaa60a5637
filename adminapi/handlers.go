package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quantengine/logging"
)

// handleStatus reports the portfolio's aggregate book and capital figure.
func (s *Server) handleStatus(c *gin.Context) {
	regs := s.mgr.Registrations()
	c.JSON(http.StatusOK, gin.H{
		"capital":         s.mgr.Capital(),
		"strategy_count":  len(regs),
		"book":            s.mgr.Book(),
		"live_engine_run": s.live != nil,
	})
}

// handleListStrategies reports every registered strategy's ID, weight, and
// lifecycle state.
func (s *Server) handleListStrategies(c *gin.Context) {
	regs := s.mgr.Registrations()
	out := make([]gin.H, 0, len(regs))
	for _, r := range regs {
		out = append(out, gin.H{
			"id":     r.Strategy.ID(),
			"state":  r.Strategy.State().String(),
			"weight": r.Weight,
		})
	}
	c.JSON(http.StatusOK, gin.H{"strategies": out})
}

func (s *Server) handlePauseStrategy(c *gin.Context) {
	id := c.Param("id")
	reg, ok := s.mgr.Strategy(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}
	if err := reg.Strategy.Pause(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "strategy paused", "id": id})
}

func (s *Server) handleResumeStrategy(c *gin.Context) {
	id := c.Param("id")
	reg, ok := s.mgr.Strategy(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}
	if err := reg.Strategy.Start(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "strategy resumed", "id": id})
}

func (s *Server) handleStopStrategy(c *gin.Context) {
	id := c.Param("id")
	reg, ok := s.mgr.Strategy(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}
	if err := reg.Strategy.Stop(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "strategy stopped", "id": id})
}

// handleFlattenAll pauses every running strategy and zeroes the portfolio's
// book, a manual emergency-stop mirroring the risk engine's automatic
// drawdown-breach flatten.
func (s *Server) handleFlattenAll(c *gin.Context) {
	log := logging.Component("adminapi")
	errs := s.mgr.ForceFlatten()
	if len(errs) > 0 {
		log.Warn().Int("strategy_errors", len(errs)).Msg("flatten-all completed with per-strategy pause errors")
	}
	c.JSON(http.StatusOK, gin.H{"message": "flatten-all executed", "strategy_errors": len(errs)})
}
