package server

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/ingest-cli/internal/mapping"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/recovery"
	"github.com/sells-group/ingest-cli/internal/store"
	"github.com/sells-group/ingest-cli/internal/upload"
	"github.com/sells-group/ingest-cli/internal/wizard"
)

type sessionHandler func(w http.ResponseWriter, r *http.Request, e *entry)

func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := s.load(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		h(w, r, e)
	}
}

// load returns the loaded session or resumes it from the store.
func (s *Server) load(ctx context.Context, id string) (*entry, error) {
	if e, ok := s.sessions.get(id); ok {
		return e, nil
	}
	if s.deps.Store == nil {
		return nil, eris.Wrapf(errSessionNotFound, "server: session %s", id)
	}
	snap, err := s.deps.Store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	logs, err := s.deps.Store.ListLogs(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "server: logs of %s", id)
	}
	wz, err := wizard.Resume(ctx, s.deps.Wizard, s.cfg.Wizard, *snap, logs)
	if err != nil {
		return nil, err
	}
	e, _ := s.sessions.add(wz)
	s.log.Info("server: session resumed", zap.String("session_id", id), zap.String("phase", string(snap.Phase)))
	return e, nil
}

func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "server: no table catalog configured"})
		return
	}
	tables, err := s.deps.Catalog.ListTables(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (s *Server) describeTable(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "server: no table catalog configured"})
		return
	}
	t, err := s.deps.Catalog.DescribeTable(r.Context(), pathParam(r, "table"))
	if err != nil {
		writeError(w, recovery.Classify(err, map[string]string{"table": pathParam(r, "table")}))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) createSession(w http.ResponseWriter, _ *http.Request) {
	wz := wizard.New(s.deps.Wizard, s.cfg.Wizard)
	s.sessions.add(wz)
	s.log.Info("server: session created", zap.String("session_id", wz.ID()))
	writeJSON(w, http.StatusCreated, wz.View())
}

func (s *Server) getSession(w http.ResponseWriter, _ *http.Request, e *entry) {
	writeJSON(w, http.StatusOK, e.w.View())
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, loaded := s.sessions.get(id)
	if loaded && s.sessions.remove(id) {
		// Close persists a final snapshot; the store delete below removes it.
		s.closeEntry(e)
	}
	var err error
	if s.deps.Store != nil {
		err = s.deps.Store.DeleteSession(r.Context(), id)
		if loaded && errors.Is(err, store.ErrNotFound) {
			err = nil
		}
	} else if !loaded {
		err = eris.Wrapf(errSessionNotFound, "server: session %s", id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logs(w http.ResponseWriter, r *http.Request, e *entry) {
	if r.URL.Query().Get("download") == "" {
		writeJSON(w, http.StatusOK, map[string]any{"logs": e.w.Logs()})
		return
	}
	b, err := e.w.ExportLogs()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="upload-`+e.w.ID()+`.log.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(b) //nolint:errcheck
}

type fileRequest struct {
	Path        string `json:"path"`
	TargetTable string `json:"target_table"`
	UseAI       bool   `json:"use_ai"`
}

func (s *Server) selectFile(w http.ResponseWriter, r *http.Request, e *entry) {
	f, opts, err := s.receiveFile(w, r, e)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := e.w.SelectFile(r.Context(), f, opts); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e.w.View())
}

// receiveFile takes either a multipart upload in the "file" field or a JSON
// body naming a path the server can read.
func (s *Server) receiveFile(w http.ResponseWriter, r *http.Request, e *entry) (model.File, model.FileOptions, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "multipart/form-data" {
		var req fileRequest
		if err := decodeJSON(r, &req); err != nil {
			return model.File{}, model.FileOptions{}, err
		}
		if req.Path == "" {
			return model.File{}, model.FileOptions{}, badRequest{eris.New("server: path is required")}
		}
		f, err := model.FileFromPath(req.Path)
		if err != nil {
			return model.File{}, model.FileOptions{}, badRequest{err}
		}
		return f, model.FileOptions{TargetTable: req.TargetTable, UseAI: req.UseAI}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return model.File{}, model.FileOptions{}, badRequest{eris.Wrap(err, "server: parse form")}
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	opts := model.FileOptions{TargetTable: r.FormValue("target_table")}
	if v := r.FormValue("use_ai"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return model.File{}, model.FileOptions{}, badRequest{eris.Wrapf(err, "server: use_ai %q", v)}
		}
		opts.UseAI = b
	}

	src, hdr, err := r.FormFile("file")
	if err != nil {
		return model.File{}, model.FileOptions{}, badRequest{eris.Wrap(err, "server: form file")}
	}
	defer src.Close() //nolint:errcheck

	name := filepath.Base(hdr.Filename)
	if name == "." || name == string(filepath.Separator) {
		return model.File{}, model.FileOptions{}, badRequest{eris.New("server: file has no name")}
	}
	dir, err := os.MkdirTemp(s.cfg.UploadDir, "ingest-")
	if err != nil {
		return model.File{}, model.FileOptions{}, eris.Wrap(err, "server: upload dir")
	}
	e.addUploadDir(dir)

	path := filepath.Join(dir, name)
	dst, err := os.Create(path)
	if err != nil {
		return model.File{}, model.FileOptions{}, eris.Wrapf(err, "server: create %s", name)
	}
	_, err = io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return model.File{}, model.FileOptions{}, eris.Wrapf(err, "server: store %s", name)
	}
	f, err := model.FileFromPath(path)
	return f, opts, err
}

func (s *Server) changeTargetTable(w http.ResponseWriter, r *http.Request, e *entry) {
	var req struct {
		TargetTable string `json:"target_table"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := e.w.ChangeTargetTable(r.Context(), req.TargetTable); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e.w.View())
}

func (s *Server) reanalyze(w http.ResponseWriter, r *http.Request, e *entry) {
	if _, err := e.w.Reanalyze(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e.w.View())
}

func (s *Server) chooseMode(w http.ResponseWriter, r *http.Request, e *entry) {
	var req struct {
		Mode model.UploadMode `json:"mode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Mode != model.ModeQuick && req.Mode != model.ModeAdvanced {
		writeError(w, badRequest{eris.Errorf("server: unknown mode %q", req.Mode)})
		return
	}
	if err := e.w.ChooseMode(r.Context(), req.Mode); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e.w.View())
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request, e *entry) {
	var req struct {
		Column string `json:"column"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := e.w.Approve(req.Column); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e.w.View())
}

func (s *Server) continueCompatibility(w http.ResponseWriter, r *http.Request, e *entry) {
	if err := e.w.ContinueFromCompatibility(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e.w.View())
}

func (s *Server) mappings(w http.ResponseWriter, _ *http.Request, e *entry) {
	writeMappings(w, e, nil)
}

// writeMappings responds with the mapping view after an optional edit.
func writeMappings(w http.ResponseWriter, e *entry, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := e.w.Mappings()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) mappingOptions(w http.ResponseWriter, r *http.Request, e *entry) {
	source := pathParam(r, "source")
	opts, err := e.w.MappingOptions(source)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "options": opts})
}

func (s *Server) updateMapping(w http.ResponseWriter, r *http.Request, e *entry) {
	var target model.MappingTarget
	if err := decodeJSON(r, &target); err != nil {
		writeError(w, err)
		return
	}
	writeMappings(w, e, e.w.UpdateMapping(pathParam(r, "source"), target))
}

func (s *Server) removeMapping(w http.ResponseWriter, r *http.Request, e *entry) {
	writeMappings(w, e, e.w.RemoveMapping(pathParam(r, "source")))
}

func (s *Server) clearMappings(w http.ResponseWriter, _ *http.Request, e *entry) {
	writeMappings(w, e, e.w.ClearMappings())
}

func (s *Server) autoApply(w http.ResponseWriter, _ *http.Request, e *entry) {
	writeMappings(w, e, e.w.AutoApplyHighConfidence())
}

func (s *Server) resetMappings(w http.ResponseWriter, _ *http.Request, e *entry) {
	writeMappings(w, e, e.w.ResetMappings())
}

// applyProfile takes a saved mapping profile as YAML.
func (s *Server) applyProfile(w http.ResponseWriter, r *http.Request, e *entry) {
	var p mapping.Profile
	if err := yaml.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, badRequest{eris.Wrap(err, "server: decode profile")})
		return
	}
	n, err := e.w.ApplyProfile(&p)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := e.w.Mappings()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": n, "mappings": view})
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request, e *entry) {
	rows := 0
	if v := r.URL.Query().Get("rows"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, badRequest{eris.Errorf("server: invalid rows %q", v)})
			return
		}
		rows = n
	}
	out, err := e.w.Preview(r.Context(), rows)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": out})
}

func (s *Server) confirmMappings(w http.ResponseWriter, r *http.Request, e *entry) {
	v, err := e.w.ConfirmMappings(r.Context())
	if err != nil {
		body := map[string]any{"error": err.Error()}
		if v != nil {
			body["validation"] = v
		}
		writeJSON(w, statusFor(err), body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"validation": v, "session": e.w.View()})
}

func uploading(w *wizard.Wizard) bool {
	switch w.View().Upload.State {
	case model.UploadUploading, model.UploadProcessing, model.UploadRetrying:
		return true
	}
	return false
}

func (s *Server) startUpload(w http.ResponseWriter, _ *http.Request, e *entry) {
	s.runUpload(w, e, false)
}

func (s *Server) retryUpload(w http.ResponseWriter, _ *http.Request, e *entry) {
	s.runUpload(w, e, true)
}

// runUpload starts the upload in the background and answers at once; the
// client follows progress on the session view.
func (s *Server) runUpload(w http.ResponseWriter, e *entry, retry bool) {
	if p := e.w.Phase(); p != model.PhaseUploadProcessing {
		writeError(w, eris.Wrapf(wizard.ErrWrongPhase, "server: in %s", p))
		return
	}
	if uploading(e.w) {
		writeError(w, upload.ErrBusy)
		return
	}
	if retry {
		st := e.w.View().Upload.State
		if st != model.UploadError && st != model.UploadCancelled {
			writeError(w, wizard.ErrNothingToRetry)
			return
		}
	}

	s.goUpload(e, retry, func(ctx context.Context) error {
		var err error
		if retry {
			_, err = e.w.RetryUpload(ctx)
		} else {
			_, err = e.w.Upload(ctx)
		}
		return err
	})
	writeJSON(w, http.StatusAccepted, e.w.View())
}

// goUpload runs an upload on the server context, so it outlives the request
// that started it and only stops on an explicit cancel or Close.
func (s *Server) goUpload(e *entry, retry bool, run func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := run(s.ctx); err != nil {
			s.log.Info("server: upload ended with error",
				zap.String("session_id", e.w.ID()),
				zap.Bool("retry", retry),
				zap.Error(err),
			)
		}
	}()
}

func (s *Server) cancelUpload(w http.ResponseWriter, _ *http.Request, e *entry) {
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": e.w.CancelUpload()})
}

func (s *Server) cancelAutoRetry(w http.ResponseWriter, _ *http.Request, e *entry) {
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": e.w.CancelAutoRetry()})
}

func (s *Server) recoverSession(w http.ResponseWriter, r *http.Request, e *entry) {
	var req struct {
		Action recovery.ActionKind `json:"action"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	intent, err := e.w.RecoverDetached(r.Context(), req.Action, func(run func(context.Context) error) {
		s.goUpload(e, true, run)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"intent": intent, "session": e.w.View()})
}

func (s *Server) dismiss(w http.ResponseWriter, _ *http.Request, e *entry) {
	if err := e.w.Dismiss(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e.w.View())
}

func (s *Server) back(w http.ResponseWriter, _ *http.Request, e *entry) {
	if _, err := e.w.Back(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e.w.View())
}

func (s *Server) cancelSession(w http.ResponseWriter, _ *http.Request, e *entry) {
	e.w.Cancel()
	writeJSON(w, http.StatusOK, e.w.View())
}
