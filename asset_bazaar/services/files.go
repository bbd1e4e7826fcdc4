package services

import (
	"bms_platform/asset_bazaar/storage"
	"bms_platform/utils"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"regexp"

	"github.com/go-chi/chi/v5"
)

// Stored files are named <sha256>.<extension>.
var storedFileName = regexp.MustCompile(`^[0-9a-f]{64}\.[a-z0-9]+$`)

type FileService struct {
	storage storage.Storage
}

func (s *FileService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/assets/{name}", s.serve(storage.AssetDir))
	r.Get("/icons/{name}", s.serve(storage.IconDir))

	return r
}

func (s *FileService) serve(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := utils.URLParam(r, "name")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !storedFileName.MatchString(name) {
			http.Error(w, fmt.Sprintf("invalid file name '%v'", name), http.StatusBadRequest)
			return
		}

		file, err := s.storage.Read(path.Join(dir, name))
		if err != nil {
			http.Error(w, fmt.Sprintf("error reading file: %v", err), GetResponseCode(err))
			return
		}
		defer file.Close()

		contentType := mime.TypeByExtension(path.Ext(name))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		// Names are content hashes so the bytes behind a name never change.
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")

		if _, err := io.Copy(w, file); err != nil {
			slog.Error("error sending file", "dir", dir, "name", name, "error", err)
		}
	}
}
