package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/websearch-chat/internal/chat"
	"github.com/MegaGrindStone/websearch-chat/internal/models"
)

type homePageData struct {
	Page      Page
	KeyStatus apiKeyData
	Running   bool
	Messages  []message
}

type apiKeyData struct {
	APIKeySet bool
	Error     string
}

type submissionData struct {
	User      message
	Assistant message
	Warning   string
}

const (
	missingAPIKeyWarning = "Please enter your API key!"
	turnFailureMessage   = "Sorry, something went wrong while answering your question. Please try again."
)

// HandleHome renders the chat page with the transcript of the caller's session.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s := m.session(w, r)
	history := s.Messages()

	msgs := make([]message, len(history))
	for i, msg := range history {
		rm, err := m.renderMessage(msg, "ended")
		if err != nil {
			m.logger.Error("Failed to render message",
				slog.String("messageID", msg.ID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		msgs[i] = rm
	}

	data := homePageData{
		Page:      m.page,
		KeyStatus: apiKeyData{APIKeySet: s.APIKeySet()},
		Running:   s.Running(),
		Messages:  msgs,
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to execute home template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleAPIKey stores the "api_key" form field as the key of the caller's session and renders the key
// status of the sidebar. A blank value clears the key.
func (m Main) HandleAPIKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s := m.session(w, r)

	data := apiKeyData{}
	if err := s.SetAPIKey(r.Context(), r.FormValue("api_key")); err != nil {
		// The key itself is never logged.
		m.logger.Error("Failed to set API key",
			slog.String("sessionID", s.ID()),
			slog.String(errLoggerKey, err.Error()))
		data.Error = "The API key could not be used."
	}
	data.APIKeySet = s.APIKeySet()

	if err := m.templates.ExecuteTemplate(w, "api_key_status", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleChats submits the "message" form field as a question of the caller's session.
//
// It renders the user message followed by either a warning, when the session has no API key, or an
// assistant placeholder in the loading state. The answer is produced in the background and delivered
// through the session's SSE topic: "status" events while the agents work, then a "messages" event with
// the rendered answer or a "failure" event.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	text := r.FormValue("message")
	if strings.TrimSpace(text) == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	s := m.session(w, r)

	turn, um, err := s.Submit(text)
	if errors.Is(err, chat.ErrTurnInProgress) {
		http.Error(w, "A question is already being answered", http.StatusConflict)
		return
	}

	user, rerr := m.renderMessage(um, "ended")
	if rerr != nil {
		m.logger.Error("Failed to render message",
			slog.String("messageID", um.ID),
			slog.String(errLoggerKey, rerr.Error()))
		http.Error(w, rerr.Error(), http.StatusInternalServerError)
		return
	}
	data := submissionData{User: user}

	switch {
	case errors.Is(err, chat.ErrMissingAPIKey):
		data.Warning = missingAPIKeyWarning
	case err != nil:
		m.logger.Error("Failed to submit message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	default:
		data.Assistant = message{
			ID:             "pending-" + um.ID,
			Role:           string(models.RoleAssistant),
			StreamingState: "loading",
		}
		go m.answer(s.ID(), turn)
	}

	if err := m.templates.ExecuteTemplate(w, "submission", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) answer(sessionID string, turn *chat.Turn) {
	progress := func(status string) {
		m.publish(sessionID, statusSSEType, status)
	}

	msg, err := turn.Run(m.ctx, progress)
	if err != nil {
		m.logger.Error("Failed to answer question",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		m.publish(sessionID, failureSSEType, turnFailureMessage)
		return
	}

	rm, err := m.renderMessage(msg, "ended")
	if err != nil {
		m.logger.Error("Failed to render message",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
		m.publish(sessionID, failureSSEType, turnFailureMessage)
		return
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "ai_message", rm); err != nil {
		m.logger.Error("Failed to execute ai_message template", slog.String(errLoggerKey, err.Error()))
		m.publish(sessionID, failureSSEType, turnFailureMessage)
		return
	}
	m.publish(sessionID, messagesSSEType, sb.String())
}
