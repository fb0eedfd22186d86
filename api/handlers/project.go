package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/0MATRIX0/agent-connect/internal/repository"
)

// ProjectHandler handles HTTP requests for the project registry.
type ProjectHandler struct {
	projects *repository.ProjectRepository
}

// NewProjectHandler creates a new ProjectHandler.
func NewProjectHandler(projects *repository.ProjectRepository) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

// CreateProjectRequest represents the request body for registering a project.
type CreateProjectRequest struct {
	Name string `json:"name" binding:"required"`
	Path string `json:"path" binding:"required"`
}

// List handles GET /api/projects.
func (h *ProjectHandler) List(c *gin.Context) {
	projects, err := h.projects.List(c.Request.Context())
	if err != nil {
		sendModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, projects)
}

// Create handles POST /api/projects.
func (h *ProjectHandler) Create(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Name and path are required")
		return
	}

	project, err := h.projects.Create(c.Request.Context(), req.Name, req.Path)
	if err != nil {
		sendModelError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// Delete handles DELETE /api/projects/:id. Running sessions of the project
// are not affected.
func (h *ProjectHandler) Delete(c *gin.Context) {
	project, err := h.projects.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// RegisterRoutes registers the project routes on a Gin router group.
func (h *ProjectHandler) RegisterRoutes(rg *gin.RouterGroup) {
	projects := rg.Group("/projects")
	{
		projects.GET("", h.List)
		projects.POST("", h.Create)
		projects.DELETE("/:id", h.Delete)
	}
}
