package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/lockdrop/internal/custody"
	"github.com/dharsanguruparan/lockdrop/internal/errs"
	"github.com/dharsanguruparan/lockdrop/internal/model"
	"github.com/dharsanguruparan/lockdrop/internal/validate"
)

// formOverhead is the room left in the request body for the password field
// and multipart framing.
const formOverhead = 64 << 10

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxFileSize+formOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		err = errs.Invalid(validate.ReasonMissingFile, "expecting multipart form")
		s.svc.RejectUpload(r.Context(), "", err)
		s.respondError(w, r, err)
		return
	}
	req, err := s.readUpload(mr)
	if err != nil {
		s.svc.RejectUpload(r.Context(), req.Filename, err)
		s.respondError(w, r, err)
		return
	}
	a, err := s.svc.Upload(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"message":  "File uploaded successfully!",
		"id":       a.ID,
		"filename": a.DisplayName,
		"file_url": s.link("/?id=" + url.QueryEscape(a.ID)),
	})
}

// readUpload streams the multipart body. The file part is read up to one
// byte past the limit so the policy can report the size rejection.
func (s *Server) readUpload(mr *multipart.Reader) (custody.UploadRequest, error) {
	var req custody.UploadRequest
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return req, nil
		}
		if err != nil {
			return req, bodyError(err, s.opts.MaxFileSize)
		}
		switch part.FormName() {
		case "file":
			req.Filename = part.FileName()
			req.Data, err = io.ReadAll(io.LimitReader(part, s.opts.MaxFileSize+1))
			if req.Data == nil {
				req.Data = []byte{}
			}
		case "password":
			var b []byte
			b, err = io.ReadAll(io.LimitReader(part, 1024))
			req.Password = string(b)
		}
		part.Close()
		if err != nil {
			return req, bodyError(err, s.opts.MaxFileSize)
		}
		if int64(len(req.Data)) > s.opts.MaxFileSize {
			// The policy rejects it; no need to read the rest.
			return req, nil
		}
	}
}

func bodyError(err error, limit int64) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return errs.Invalid(validate.ReasonSize, fmt.Sprintf("file exceeds %d bytes", limit))
	}
	return errs.Invalid("malformed", "malformed multipart body")
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body passwordRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil {
		s.respondError(w, r, errs.Invalid("malformed", "expecting JSON body with a password"))
		return
	}
	grant, err := s.svc.Authorize(r.Context(), id, body.Password)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"download_url": s.link("/api/download/" + url.PathEscape(id) + "?token=" + url.QueryEscape(grant.Token)),
		"token":        grant.Token,
		"filename":     grant.FileName,
		"expires_at":   grant.ExpiresAt,
	})
}

// deliveryWriter remembers whether writing the body failed so the download
// is not counted.
type deliveryWriter struct {
	http.ResponseWriter
	err error
}

func (d *deliveryWriter) Write(b []byte) (int, error) {
	n, err := d.ResponseWriter.Write(b)
	if err != nil && d.err == nil {
		d.err = err
	}
	return n, err
}

// errShortDelivery reports a body that ended before Artifact.Size bytes.
var errShortDelivery = errors.New("short delivery")

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		// A HEAD would count as a download without sending one.
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := r.PathValue("id")
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = bearer(r)
	}
	dw := &deliveryWriter{ResponseWriter: w}
	started := false
	// The whole file is always sent with a 200. Range and conditional
	// headers are ignored so every counted download is a complete one.
	err := s.svc.Fetch(r.Context(), id, raw, func(d custody.Download) error {
		started = true
		h := w.Header()
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.Artifact.DisplayName}))
		h.Set("Content-Type", d.Artifact.ContentType)
		h.Set("Content-Length", strconv.FormatInt(d.Artifact.Size, 10))
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Cache-Control", "no-store")
		h.Set("Accept-Ranges", "none")
		w.WriteHeader(http.StatusOK)
		n, err := io.Copy(dw, d.Content)
		if err != nil {
			return err
		}
		if dw.err != nil {
			return dw.err
		}
		if n != d.Artifact.Size {
			return fmt.Errorf("%w: sent %d of %d bytes", errShortDelivery, n, d.Artifact.Size)
		}
		return nil
	})
	if err != nil && !started {
		s.respondError(w, r, err)
		return
	}
	if err != nil {
		s.log.Warn("download ended with error after headers were sent", zap.String("id", id), zap.Error(err))
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := bearer(r)
	if raw == "" {
		var body refreshRequest
		_ = json.NewDecoder(io.LimitReader(r.Body, 8192)).Decode(&body)
		raw = body.RefreshToken
	}
	if raw == "" {
		s.respondError(w, r, errs.ErrUnauthorized)
		return
	}
	pair, err := s.tokens.Refresh(raw)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pair)
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if s.opts.AdminPasswordHash == "" {
		s.respondError(w, r, errs.ErrForbidden)
		return
	}
	var body passwordRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil || body.Password == "" {
		s.respondError(w, r, errs.Invalid("malformed", "expecting JSON body with a password"))
		return
	}
	if !s.hasher.Verify(s.opts.AdminPasswordHash, body.Password) {
		s.respondError(w, r, errs.ErrUnauthorized)
		return
	}
	pair, err := s.tokens.IssuePair("admin", true)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pair)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	l, err := s.svc.List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	files := l.Artifacts
	if files == nil {
		files = []model.Artifact{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"files":      files,
		"unreadable": len(l.Unreadable),
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	recatalog, _ := strconv.ParseBool(r.URL.Query().Get("recatalog"))
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if s.queue == nil {
			s.respondError(w, r, errs.Invalid("async", "background queue is not configured"))
			return
		}
		taskID, err := s.queue.EnqueueReconcile(r.Context(), recatalog)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]any{"success": true, "task_id": taskID})
		return
	}
	report, err := s.svc.Reconcile(r.Context(), recatalog)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Purge(r.Context(), r.PathValue("id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) link(path string) string {
	return s.opts.PublicURL + path
}
