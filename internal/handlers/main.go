package handlers

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	websearchchat "github.com/MegaGrindStone/websearch-chat"
	"github.com/MegaGrindStone/websearch-chat/internal/chat"
	"github.com/MegaGrindStone/websearch-chat/internal/models"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

// Main serves the chat page, accepts API keys and questions, and pushes the answers of running turns to
// the browser through server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	markdown  goldmark.Markdown

	sessions *chat.Sessions
	page     Page

	// ctx is the parent of every running turn; cancel aborts them on shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger
}

// Page holds the static texts and links of the chat page.
type Page struct {
	Title   string
	Caption string
	About   string
	Links   []Link
}

// Link is an informational link shown in the sidebar.
type Link struct {
	Title string
	URL   string
}

type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time

	StreamingState string
}

const (
	sessionCookieName = "websearchchat_session"

	errLoggerKey = "err"
)

// SSE event types for real-time updates.
const (
	statusSSEType    = "status"
	messagesSSEType  = "messages"
	failureSSEType   = "failure"
	closeChatSSEType = "closeChat"
)

// DefaultPage is used for the fields left empty in the Page given to NewMain.
var DefaultPage = Page{
	Title:   "Chat with Web Search",
	Caption: "Answers to your questions, researched live on the web.",
	About: "Questions are answered by a manager agent that delegates web research to a search agent " +
		"able to search the web and read webpages. Answers come with their source URLs.",
}

// NewMain creates a new Main instance serving the sessions of registry. It parses the templates from the
// embedded filesystem and configures the SSE server so every client subscribes to the topic of its own
// session.
func NewMain(sessions *chat.Sessions, page Page, logger *slog.Logger) (Main, error) {
	tmpl, err := template.ParseFS(
		websearchchat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("error parsing templates: %w", err)
	}

	if page.Title == "" {
		page.Title = DefaultPage.Title
	}
	if page.Caption == "" {
		page.Caption = DefaultPage.Caption
	}
	if page.About == "" {
		page.About = DefaultPage.About
	}

	ctx, cancel := context.WithCancel(context.Background())

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic}

				// Clients only receive the events of the session their cookie names.
				if c, err := s.Req.Cookie(sessionCookieName); err == nil {
					if _, ok := sessions.Get(c.Value); ok {
						topics = append(topics, sessionTopic(c.Value))
					}
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates: tmpl,
		markdown: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(highlighting.WithStyle("github")),
			),
		),
		sessions: sessions,
		page:     page,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With(slog.String("module", "main")),
	}, nil
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// HandleSSE serves the event stream of the caller's session.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown cancels the running turns and gracefully terminates the SSE server. It broadcasts a close
// message to all connected clients and waits up to 5 seconds for connections to terminate. After the
// timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.cancel()

	e := &sse.Message{Type: sse.Type(closeChatSSEType)}
	// SSE requires data on every event.
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// session returns the session named by the request cookie, creating one and setting the cookie when the
// request carries none or an unknown one.
func (m Main) session(w http.ResponseWriter, r *http.Request) *chat.Session {
	var id string
	if c, err := r.Cookie(sessionCookieName); err == nil {
		id = c.Value
	}

	s := m.sessions.GetOrCreate(id)
	if s.ID() == id {
		return s
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    s.ID(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return s
}

// renderMessage converts msg for the templates. Assistant text is rendered as markdown; user text is
// shown as typed.
func (m Main) renderMessage(msg models.Message, streamingState string) (message, error) {
	content := template.HTML(template.HTMLEscapeString(msg.Text()))
	if msg.Role == models.RoleAssistant {
		var buf bytes.Buffer
		if err := m.markdown.Convert([]byte(msg.Text()), &buf); err != nil {
			return message{}, fmt.Errorf("error rendering markdown: %w", err)
		}
		// goldmark escapes raw HTML unless configured with html.WithUnsafe.
		content = template.HTML(buf.String())
	}

	return message{
		ID:             msg.ID,
		Role:           string(msg.Role),
		Content:        content,
		Timestamp:      msg.Timestamp,
		StreamingState: streamingState,
	}, nil
}

func (m Main) publish(sessionID, typ, data string) {
	msg := sse.Message{Type: sse.Type(typ)}
	msg.AppendData(data)
	if err := m.sseSrv.Publish(&msg, sessionTopic(sessionID)); err != nil {
		m.logger.Error("Failed to publish event",
			slog.String("type", typ),
			slog.String(errLoggerKey, err.Error()))
	}
}
