package flags

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Nadosaurusrex/devin-proj/internal/github"
	"github.com/Nadosaurusrex/devin-proj/internal/shared/server/respond"
)

// Handler serves flag registries fetched from GitHub.
type Handler struct {
	GitHub *github.Client
}

// RegisterRoutes mounts flag endpoints on the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/flags", h.List)
}

type listResponse struct {
	Flags  []Flag     `json:"flags"`
	Source listSource `json:"source"`
}

type listSource struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
	Path   string `json:"path"`
}

// List fetches a registry file from GitHub and returns its parsed flags.
func (h *Handler) List(c *gin.Context) {
	owner := c.Query("owner")
	repo := c.Query("repo")
	branch := c.Query("branch")
	path := c.DefaultQuery("registryPath", "config/flags.json")

	if owner == "" || repo == "" {
		respond.Error(c, http.StatusBadRequest, "MISSING_PARAMETERS", "Required parameters missing", []string{
			`Provide "owner" query parameter (repository owner)`,
			`Provide "repo" query parameter (repository name)`,
			"Example: /api/v1/flags?owner=facebook&repo=react&registryPath=config/flags.json",
		})
		return
	}

	content, err := h.GitHub.GetFileContent(c.Request.Context(), owner, repo, path, branch)
	if err != nil {
		h.githubError(c, err)
		return
	}

	parsed, err := Parse(content, path)
	if err != nil {
		respond.Error(c, http.StatusUnprocessableEntity, "PARSE_ERROR", err.Error(), []string{
			"Verify the file is valid JSON or YAML",
			"Check that the file structure matches expected format",
			`Expected format: array of flags or object with "flags" property`,
		})
		return
	}

	label := branch
	if label == "" {
		label = "default"
	}
	respond.OK(c, listResponse{
		Flags: parsed,
		Source: listSource{
			Owner:  owner,
			Repo:   repo,
			Branch: label,
			Path:   path,
		},
	})
}

func (h *Handler) githubError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, github.ErrMissingToken):
		respond.Error(c, http.StatusInternalServerError, "MISSING_TOKEN", "GitHub token not configured", []string{
			"Set GITHUB_TOKEN environment variable",
			"Ensure .env file contains valid GitHub token",
		})
	case errors.Is(err, github.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "GITHUB_ERROR", err.Error(), []string{
			"Check that the repository and file path are correct",
			"Ensure the repository is accessible with the provided credentials",
		})
	case errors.Is(err, github.ErrForbidden):
		respond.Error(c, http.StatusForbidden, "GITHUB_ERROR", err.Error(), []string{
			"Verify GitHub token has appropriate permissions",
			"Ensure the repository is accessible with the provided credentials",
		})
	default:
		respond.Error(c, http.StatusBadGateway, "GITHUB_ERROR", err.Error(), nil)
	}
}
