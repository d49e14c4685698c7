package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	applog "churnboard/internal/log"
	"churnboard/internal/services"
	"churnboard/internal/storage"
)

const (
	uploadField   = "file"
	importTimeout = time.Minute
)

// handleUpload stores a multipart upload and selects it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ErrorResponse(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File is larger than %d MB.", s.maxUploadBytes>>20)).Write(w)
			return
		}
		BadRequestError("Invalid upload request.").Write(w)
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		UnprocessableEntityError("Choose a file to upload.").Write(w)
		return
	}
	defer file.Close()

	if header.Size > s.maxUploadBytes {
		ErrorResponse(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("File is larger than %d MB.", s.maxUploadBytes>>20)).Write(w)
		return
	}

	stored, err := s.uploads.Save(r.Context(), header.Filename, file)
	if err != nil {
		s.writeStoreError(w, r, applog.OpUpload, header.Filename, err)
		return
	}
	s.appMetrics.uploads.Add(1)
	s.requestLog(r).LogUploadStored(r.Context(), stored.Name, header.Filename, stored.Size)

	v := ParseViewState(r.Form).WithFile(stored.Name)
	s.redirect(w, r, ViewState{File: v.File, Sort: v.Sort}, "Uploaded "+stored.OriginalName)
}

// handleDelete removes the selected stored file.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}
	v := ParseViewStateRequest(r)
	if v.File == "" {
		UnprocessableEntityError("No file selected.").Write(w)
		return
	}

	if err := s.uploads.Delete(r.Context(), v.File); err != nil {
		s.writeStoreError(w, r, applog.OpDelete, v.File, err)
		return
	}
	s.appMetrics.deletions.Add(1)

	s.redirect(w, r, ViewState{Sort: v.Sort}, "Deleted "+v.File)
}

// handleImport snapshots the configured Google Sheet as a new upload.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}
	v := ParseViewStateRequest(r)

	ctx, cancel := context.WithTimeout(r.Context(), importTimeout)
	defer cancel()

	stored, err := s.uploads.ImportSheet(ctx)
	if err != nil {
		if errors.Is(err, services.ErrImportDisabled) {
			ServiceUnavailableError("Google Sheets import is not configured.").Write(w)
			return
		}
		s.requestLog(r).LogError(ctx, "Google Sheets import failed", err, applog.ComponentSheets, applog.OpImport, nil)
		ErrorResponse(http.StatusBadGateway, "Google Sheets import failed: "+err.Error()).
			TriggerErrorNotification("Google Sheets import failed").
			Write(w)
		return
	}
	s.appMetrics.imports.Add(1)
	s.requestLog(r).LogUploadStored(ctx, stored.Name, stored.OriginalName, stored.Size)

	s.redirect(w, r, ViewState{File: stored.Name, Sort: v.Sort}, "Imported "+stored.OriginalName)
}

// writeStoreError maps upload store failures to responses.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, op, name string, err error) {
	switch {
	case errors.Is(err, storage.ErrExtensionNotAllowed):
		UnprocessableEntityError(fmt.Sprintf("Only %v files are accepted.", s.uploads.Extensions())).Write(w)
	case errors.Is(err, storage.ErrInvalidName):
		BadRequestError("Invalid file name.").Write(w)
	case errors.Is(err, storage.ErrNotFound):
		NotFoundError("File not found: " + name).Write(w)
	default:
		s.requestLog(r).LogError(r.Context(), "Upload store failure", err, applog.ComponentStorage, op,
			applog.NewFields().WithUpload(name, "", 0))
		InternalServerError("Could not update the upload directory.").
			TriggerErrorNotification("Storage error").
			Write(w)
	}
}

// redirect sends htmx clients to the dashboard with v selected, and plain
// form posts through a 303.
func (s *Server) redirect(w http.ResponseWriter, r *http.Request, v ViewState, notice string) {
	target := string(partialURL("/", v))
	if r.Header.Get("HX-Request") == "true" {
		NewHTMXResponse().
			Redirect(target).
			TriggerUploadsChanged(v.File).
			TriggerSuccessNotification(notice).
			Write(w)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
