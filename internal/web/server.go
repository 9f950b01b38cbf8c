// Package web is the HTTP boundary: it parses multipart chat requests,
// hands them to the orchestrator and renders JSON. A failed request returns
// an error body; it never takes the process down.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kkkrraamm/api-aldlma-ai/internal/agent"
	"github.com/kkkrraamm/api-aldlma-ai/internal/conversation"
	"github.com/kkkrraamm/api-aldlma-ai/internal/logger"
	"github.com/kkkrraamm/api-aldlma-ai/internal/observability"
	"github.com/kkkrraamm/api-aldlma-ai/internal/prompt"
)

const (
	// maxImageBytes caps one uploaded image part.
	maxImageBytes = 10 << 20
	// multipartMemory bounds in-memory form parsing; larger parts spill
	// to temp files.
	multipartMemory = 32 << 20

	serviceName    = "الدلما AI Backend"
	serviceVersion = "1.0.0"

	noticeEmptyInput   = "يرجى إرسال رسالة أو صورة"
	noticeBusy         = "هناك رسالة قيد المعالجة، يرجى الانتظار"
	noticeServerError  = "حدث خطأ في معالجة طلبك"
	noticeImagesOnly   = "يسمح برفع الصور فقط"
	noticeImageTooBig  = "حجم الصورة يتجاوز الحد المسموح (10MB)"
	noticeTooManyFiles = "يسمح بإرسال 10 صور كحد أقصى"
	noticeBadMultipart = "تعذر قراءة الطلب"
)

// Conversations is the orchestrator surface the server depends on.
type Conversations interface {
	Send(ctx context.Context, text string, images []conversation.Image) (agent.Result, error)
	ImportHistory(entries []agent.HistoryEntry)
}

// Server serves the chat API.
type Server struct {
	conv Conversations
}

// New creates a Server around the given orchestrator.
func New(conv Conversations) *Server {
	return &Server{conv: conv}
}

// Router builds the chi route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Get("/", s.handleHealth)
	r.Get("/metrics", observability.Handler().ServeHTTP)
	r.Post("/chat", s.handleChat)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "online",
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]string{
			"chat":   "POST /chat",
			"health": "GET /",
		},
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		respondError(w, http.StatusBadRequest, noticeBadMultipart)
		return
	}

	if raw := r.FormValue("history"); raw != "" {
		var entries []agent.HistoryEntry
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			logger.L.Warn("ignoring malformed history field", "error", err)
		} else {
			s.conv.ImportHistory(entries)
		}
	}

	images, err := readImages(r)
	if err != nil {
		var reject *rejectError
		if errors.As(err, &reject) {
			respondError(w, http.StatusBadRequest, reject.notice)
			return
		}
		logger.L.Error("reading image parts failed", "error", err)
		respondError(w, http.StatusInternalServerError, noticeServerError)
		return
	}

	message := strings.TrimSpace(r.FormValue("message"))
	res, err := s.conv.Send(r.Context(), message, images)
	switch {
	case errors.Is(err, agent.ErrEmptyInput):
		respondError(w, http.StatusBadRequest, noticeEmptyInput)
	case errors.Is(err, agent.ErrBusy):
		respondError(w, http.StatusTooManyRequests, noticeBusy)
	case err != nil:
		// Raw detail was logged inside the orchestrator; the client only
		// ever sees the generic notice.
		respondError(w, http.StatusBadGateway, noticeServerError)
	default:
		respondJSON(w, http.StatusOK, map[string]string{
			"response":  res.Reply,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// rejectError carries the user-facing notice for a refused upload.
type rejectError struct {
	notice string
	detail string
}

func (e *rejectError) Error() string { return e.detail }

// readImages extracts the uploaded image parts. The part count is checked
// before any bytes are read, so an oversized request never gets buffered;
// non-image parts and parts over the size cap are rejected too.
func readImages(r *http.Request) ([]conversation.Image, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	parts := r.MultipartForm.File["images"]
	if len(parts) > prompt.MaxImages {
		return nil, &rejectError{notice: noticeTooManyFiles, detail: fmt.Sprintf("%d image parts over the %d cap", len(parts), prompt.MaxImages)}
	}
	images := make([]conversation.Image, 0, len(parts))
	for _, fh := range parts {
		if fh.Size > maxImageBytes {
			return nil, &rejectError{notice: noticeImageTooBig, detail: "image part over size cap"}
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
		f.Close()
		if err != nil {
			return nil, err
		}
		if len(data) > maxImageBytes {
			return nil, &rejectError{notice: noticeImageTooBig, detail: "image part over size cap"}
		}

		mime := fh.Header.Get("Content-Type")
		if mime == "" || mime == "application/octet-stream" {
			mime = http.DetectContentType(data)
		}
		if !strings.HasPrefix(mime, "image/") {
			return nil, &rejectError{notice: noticeImagesOnly, detail: "non-image part: " + mime}
		}
		images = append(images, conversation.Image{MIME: mime, Data: data})
	}
	return images, nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.L.Warn("response encode failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, notice string) {
	respondJSON(w, status, map[string]string{"error": notice})
}
