package admind

import (
	"html/template"
	"io"
	"net/http"
	"sort"
	"time"

	"embed"

	"github.com/labstack/echo/v4"
	"github.com/lrstanley/girc"

	"github.com/presbrey/ircbot/bot"
)

//go:embed views
var templateFS embed.FS

// Template is a renderer for Echo that uses html/template.
type Template struct {
	templates *template.Template
}

func newTemplates() *Template {
	return &Template{
		templates: template.Must(template.ParseFS(templateFS, "views/*.html")),
	}
}

// Render renders a template with data.
func (t *Template) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return t.templates.ExecuteTemplate(w, name, data)
}

const recentLimit = 20

type recentMessage struct {
	When    time.Time
	Server  string
	Channel string
	Sender  string
	Text    string
}

// recordMessage keeps the last few channel messages for the status page,
// with IRC formatting codes stripped out of the text.
func (s *Server) recordMessage(c *bot.Conn, sender, identHost, target, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, recentMessage{
		When:    time.Now(),
		Server:  c.Name(),
		Channel: target,
		Sender:  sender,
		Text:    girc.StripRaw(text),
	})
	if len(s.recent) > recentLimit {
		s.recent = s.recent[len(s.recent)-recentLimit:]
	}
}

// handleStatusPage renders the HTML overview.
func (s *Server) handleStatusPage(c echo.Context) error {
	statuses := s.manager.Statuses()
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]bot.Status, 0, len(names))
	for _, name := range names {
		rows = append(rows, statuses[name])
	}

	s.mu.Lock()
	recent := make([]recentMessage, len(s.recent))
	copy(recent, s.recent)
	s.mu.Unlock()
	// Newest first
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	return c.Render(http.StatusOK, "status.html", map[string]interface{}{
		"Servers": rows,
		"Recent":  recent,
	})
}
