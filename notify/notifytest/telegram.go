// Package notifytest provides a fake Telegram Bot API for tests.
package notifytest

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Message is one sendMessage request as the fake received it
type Message struct {
	ChatID    string
	Text      string
	ParseMode string
}

// TelegramServer answers sendMessage for one bot token. Markdown messages are
// checked with the same entity rules the real API applies.
type TelegramServer struct {
	*httptest.Server

	token string

	mu        sync.Mutex
	requests  []Message
	delivered []Message
	reject    string
}

// NewTelegramServer starts a fake Bot API for token
func NewTelegramServer(token string) *TelegramServer {
	s := &TelegramServer{token: token}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Requests returns every sendMessage request, accepted or not
func (s *TelegramServer) Requests() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.requests...)
}

// Delivered returns the messages the fake accepted
func (s *TelegramServer) Delivered() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.delivered...)
}

// RejectAll makes every later request fail with description
func (s *TelegramServer) RejectAll(description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = description
}

func (s *TelegramServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/bot"+s.token+"/sendMessage" {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	msg, err := readMessage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request: "+err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, msg)

	if s.reject != "" {
		writeError(w, http.StatusBadRequest, s.reject)
		return
	}
	if msg.ChatID == "" {
		writeError(w, http.StatusBadRequest, "Bad Request: chat_id is empty")
		return
	}
	if msg.ParseMode == "Markdown" {
		if err := CheckLegacyMarkdown(msg.Text); err != nil {
			writeError(w, http.StatusBadRequest, "Bad Request: can't parse entities: "+err.Error())
			return
		}
	}
	s.delivered = append(s.delivered, msg)

	body := `{"ok":true}`
	body, _ = sjson.Set(body, "result.message_id", len(s.delivered))
	body, _ = sjson.Set(body, "result.date", 0)
	body, _ = sjson.Set(body, "result.chat.id", 42)
	body, _ = sjson.Set(body, "result.chat.type", "private")
	body, _ = sjson.Set(body, "result.text", msg.Text)
	writeJSON(w, http.StatusOK, body)
}

// readMessage accepts the multipart, urlencoded and JSON forms of a request
func readMessage(r *http.Request) (Message, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return Message{}, err
		}
		return Message{
			ChatID:    gjson.GetBytes(data, "chat_id").String(),
			Text:      gjson.GetBytes(data, "text").String(),
			ParseMode: gjson.GetBytes(data, "parse_mode").String(),
		}, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return Message{}, err
		}
	default:
		if err := r.ParseForm(); err != nil {
			return Message{}, err
		}
	}
	return Message{
		ChatID:    strings.Trim(r.FormValue("chat_id"), `"`),
		Text:      r.FormValue("text"),
		ParseMode: strings.Trim(r.FormValue("parse_mode"), `"`),
	}, nil
}

// CheckLegacyMarkdown reports the first entity in text that legacy Markdown
// cannot close. A backslash escapes the following entity character.
func CheckLegacyMarkdown(text string) error {
	runes := []rune(text)
	var open rune
	openAt := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if open == '`' {
			if r == '`' {
				open = 0
			}
			continue
		}

		switch r {
		case '\\':
			if i+1 < len(runes) && strings.ContainsRune("_*`[", runes[i+1]) {
				i++
			}
		case '_', '*', '`':
			switch open {
			case 0:
				open, openAt = r, i
			case r:
				open = 0
			}
		case '[':
			if open != 0 {
				continue
			}
			rest := string(runes[i:])
			mid := strings.Index(rest, "](")
			if mid < 0 {
				return fmt.Errorf("can't find end of the entity starting at offset %d", i)
			}
			end := strings.Index(rest[mid:], ")")
			if end < 0 {
				return fmt.Errorf("can't find end of the URL starting at offset %d", i)
			}
			i += len([]rune(rest[:mid+end]))
		}
	}

	if open != 0 {
		return fmt.Errorf("can't find end of the entity starting at offset %d", openAt)
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, description string) {
	body := `{"ok":false}`
	body, _ = sjson.Set(body, "error_code", status)
	body, _ = sjson.Set(body, "description", description)
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
