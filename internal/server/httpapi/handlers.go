package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/uohspeech/collector/internal/allocator"
	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/models"
)

type promptResponse struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text,omitempty"`
	Completed int    `json:"completed"`
	Done      bool   `json:"done,omitempty"`
	Error     string `json:"error,omitempty"`
}

type submitResponse struct {
	Status    string `json:"status"`
	UID       string `json:"uid"`
	Completed int    `json:"completed"`
}

type finalizeResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Uploaded  int    `json:"uploaded"`
	Remaining int    `json:"remaining"`
}

type statsResponse struct {
	Pools      []allocator.PoolStats `json:"pools"`
	Recordings *int64                `json:"recordings,omitempty"`
}

type recordingView struct {
	UID       string              `json:"uid"`
	Variant   models.Variant      `json:"variant"`
	Prompt    string              `json:"prompt"`
	AudioRef  string              `json:"audio"`
	CreatedAt time.Time           `json:"created_at"`
	User      models.Demographics `json:"user"`
}

type recordingsResponse struct {
	Total      int64           `json:"total"`
	Recordings []recordingView `json:"recordings"`
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrTransientStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := statusFor(err)
	if code == http.StatusBadRequest {
		writeError(w, code, err.Error())
		return
	}
	s.logger.Error(r.Context(), op, "error", err)
	writeError(w, code, http.StatusText(code))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.collector.Stats(r.Context())
	if err != nil {
		s.fail(w, r, "stats", err)
		return
	}
	resp := statsResponse{Pools: st}
	if s.recordings != nil {
		n, err := s.recordings.Count(r.Context())
		if err == nil {
			resp.Recordings = &n
		} else {
			s.logger.Warn(r.Context(), "recording count unavailable", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) requireReportToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.reportToken)) != 1 {
			writeError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
			return
		}
		next(w, r)
	}
}

func (s *Server) listRecordings(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		limit = min(n, maxListLimit)
	}

	total, err := s.recordings.Count(r.Context())
	if err != nil {
		s.fail(w, r, "count recordings", err)
		return
	}
	recs, err := s.recordings.List(r.Context(), limit)
	if err != nil {
		s.fail(w, r, "list recordings", err)
		return
	}
	resp := recordingsResponse{Total: total, Recordings: make([]recordingView, 0, len(recs))}
	for _, rec := range recs {
		resp.Recordings = append(resp.Recordings, recordingView{
			UID:       rec.UID,
			Variant:   rec.Variant,
			Prompt:    rec.PromptText,
			AudioRef:  rec.AudioRef,
			CreatedAt: rec.CreatedAt,
			User:      rec.Demographics,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) newSession(w http.ResponseWriter, r *http.Request) {
	old := sessionFrom(r.Context())
	s.collector.Reset(r.Context(), old)
	if err := s.sessions.Delete(r.Context(), old.ID); err != nil {
		s.logger.Warn(r.Context(), "delete old session", "error", err)
	}

	sess := s.freshSession()
	if err := s.persist(w, r, sess); err != nil {
		s.fail(w, r, "new session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) submitUserInfo(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "can't parse form")
		return
	}
	d := models.Demographics{
		Gender:   strings.TrimSpace(r.FormValue("gender")),
		Location: strings.TrimSpace(r.FormValue("location")),
		Region:   strings.TrimSpace(r.FormValue("state")),
	}
	if age := strings.TrimSpace(r.FormValue("age")); age != "" {
		n, err := strconv.Atoi(age)
		if err != nil {
			writeError(w, http.StatusBadRequest, "age must be a number")
			return
		}
		d.Age = n
	}

	sess := sessionFrom(r.Context())
	if err := s.collector.Start(sess, d); err != nil {
		s.fail(w, r, "submit user info", err)
		return
	}
	if err := s.persist(w, r, sess); err != nil {
		s.fail(w, r, "submit user info", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) prompt(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	next, err := s.collector.NextPrompt(r.Context(), sess)
	if err != nil {
		s.fail(w, r, "next prompt", err)
		return
	}

	if err := s.persist(w, r, sess); err != nil {
		s.fail(w, r, "next prompt", err)
		return
	}

	resp := promptResponse{Completed: sess.Completed, Done: next.Done}
	switch {
	case next.Prompt != nil:
		resp.ID = next.Prompt.Ref()
		resp.Text = next.Prompt.Text
	case next.Reason == allocator.ReasonUnavailable:
		resp.Error = string(next.Reason)
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	case next.Reason == allocator.ReasonNoPrompts:
		resp.Error = string(next.Reason)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "can't parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no audio file")
		return
	}
	defer f.Close()
	audio, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "can't read audio file")
		return
	}

	sess := sessionFrom(r.Context())
	item, err := s.collector.Submit(r.Context(), sess, allocator.Submission{
		Audio:      audio,
		Transcript: r.FormValue("text"),
		PromptRef:  r.FormValue("prompt_id"),
		PromptText: r.FormValue("prompt_text"),
	})
	if err != nil {
		s.fail(w, r, "submit", err)
		return
	}
	if err := s.persist(w, r, sess); err != nil {
		s.fail(w, r, "submit", err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Status: "saved", UID: item.UID, Completed: sess.Completed})
}

func (s *Server) finalize(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if len(sess.Queue) == 0 {
		writeJSON(w, http.StatusOK, finalizeResponse{Status: "no_uploads", Message: "No pending uploads found."})
		return
	}

	rep := s.collector.Finalize(r.Context(), sess)
	if err := s.persist(w, r, sess); err != nil {
		s.fail(w, r, "finalize", err)
		return
	}
	writeJSON(w, http.StatusOK, finalizeResponse{Status: "success", Uploaded: rep.Uploaded, Remaining: len(rep.Remaining)})
}
