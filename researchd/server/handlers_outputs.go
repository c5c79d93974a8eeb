package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/researchd/researchd/internals/schemas"
	"github.com/researchd/researchd/internals/store"
)

func (s *Server) HandlerListOutputs(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	files, err := s.Base.Store.ListOutputFiles(r.Context(), sessionID)
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Failed to list output files", nil), Render.Status(http.StatusInternalServerError))
		return
	}

	response := schemas.OutputFileListResponse{Files: []schemas.OutputFileInfo{}}
	for _, file := range files {
		response.Files = append(response.Files, schemas.OutputFileInfo{
			ID:        file.ID,
			Filename:  file.Filename,
			Filepath:  file.Filepath,
			FileType:  file.FileType,
			FileSize:  file.FileSize,
			CreatedAt: file.CreatedAt,
		})
	}
	RenderJSON(w, r, response)
}

func (s *Server) HandlerOutputContent(w http.ResponseWriter, r *http.Request) {
	file, ok := s.loadOutputFile(w, r)
	if !ok {
		return
	}

	response := schemas.OutputFileContentResponse{
		ID:       file.ID,
		Filename: file.Filename,
		FileType: file.FileType,
	}
	if file.FileType.IsTextual() {
		data, err := os.ReadFile(s.outputFilePath(file))
		if err != nil {
			RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Failed to read output file", nil), Render.Status(http.StatusInternalServerError))
			return
		}
		content := string(data)
		response.Content = &content
	}
	RenderJSON(w, r, response)
}

func (s *Server) HandlerOutputDownload(w http.ResponseWriter, r *http.Request) {
	file, ok := s.loadOutputFile(w, r)
	if !ok {
		return
	}

	path := s.outputFilePath(file)
	if _, err := os.Stat(path); err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "file missing on disk", nil), Render.Status(http.StatusNotFound))
		return
	}

	w.Header().Set("Content-Type", file.FileType.MediaType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	http.ServeFile(w, r, path)
}

func (s *Server) loadOutputFile(w http.ResponseWriter, r *http.Request) (*store.OutputFile, bool) {
	fileID := chi.URLParam(r, "id")

	file, err := s.Base.Store.GetOutputFile(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "output file not found", nil), Render.Status(http.StatusNotFound))
			return nil, false
		}
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Failed to read output file", nil), Render.Status(http.StatusInternalServerError))
		return nil, false
	}
	// Paths are stored relative to the session dir; anything escaping it
	// is corrupt data, not a valid file reference.
	if strings.Contains(file.Filepath, "..") || filepath.IsAbs(file.Filepath) {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "output file not found", nil), Render.Status(http.StatusNotFound))
		return nil, false
	}
	return file, true
}

func (s *Server) outputFilePath(file *store.OutputFile) string {
	return filepath.Join(s.Base.Config.Output.Dir, file.SessionID, filepath.FromSlash(file.Filepath))
}
