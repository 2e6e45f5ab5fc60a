package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FACorreiaa/loci-planner/internal/app/domain/itinerary"
)

// Setup mounts every API route on r.
func Setup(r *gin.Engine, itineraries *itinerary.Handler) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	itineraries.RegisterRoutes(api)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
	})
}
