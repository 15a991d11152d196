package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// Asset packs are JSON files dropped into PACKS_DIR (token sets, map
// tiles). They are read-only from the API's point of view.

var packNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ListPacks handles GET /api/packs.
func (h *Handler) ListPacks(c *gin.Context) {
	entries, err := os.ReadDir(h.packsDir)
	if err != nil {
		// Missing packs dir means no packs, not an error.
		c.JSON(http.StatusOK, gin.H{"packs": []string{}})
		return
	}

	packs := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		packs = append(packs, strings.TrimSuffix(e.Name(), ".json"))
	}
	c.JSON(http.StatusOK, gin.H{"packs": packs})
}

// GetPack handles GET /api/packs/:name. The name is validated against a
// strict pattern so the path cannot escape the packs directory.
func (h *Handler) GetPack(c *gin.Context) {
	name := c.Param("name")
	if !packNameRe.MatchString(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pack name"})
		return
	}

	path := filepath.Join(h.packsDir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pack not found"})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}
