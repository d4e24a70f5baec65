package server

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"modelo130/internal/tax"
)

//go:embed web/index.html
var pageFS embed.FS

var pageTemplate = template.Must(template.New("").ParseFS(pageFS, "web/index.html"))

// yearsShown is how many fiscal years the year selector offers.
const yearsShown = 6

type pageData struct {
	Regimes     []string
	Years       []int
	CurrentYear int
	Quarter     int
	Notes       []string
}

func newPageData(now time.Time) pageData {
	years := make([]int, 0, yearsShown)
	for y := now.Year() - yearsShown + 1; y <= now.Year(); y++ {
		years = append(years, y)
	}
	return pageData{
		Regimes:     tax.Regimes,
		Years:       years,
		CurrentYear: now.Year(),
		Quarter:     (int(now.Month())-1)/3 + 1,
		Notes:       tax.Notes,
	}
}

func (s *Server) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", newPageData(time.Now()))
}
