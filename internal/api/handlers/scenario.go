package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chisanga/revpredict-go/internal/models"
	"github.com/chisanga/revpredict-go/internal/services"
)

// ScenarioHandler serves the what-if simulation endpoint.
type ScenarioHandler struct {
	simulator *services.ScenarioSimulator
	logger    *logrus.Logger
}

// NewScenarioHandler creates a scenario handler.
func NewScenarioHandler(simulator *services.ScenarioSimulator, logger *logrus.Logger) *ScenarioHandler {
	return &ScenarioHandler{simulator: simulator, logger: logger}
}

// Simulate projects revenue under the submitted hypothetical tax rates.
func (h *ScenarioHandler) Simulate(c *gin.Context) {
	var input models.ScenarioInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	result, err := h.simulator.Simulate(c.Request.Context(), input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
