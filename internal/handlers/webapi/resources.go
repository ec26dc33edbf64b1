package webapi

import (
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mazrean/formstream"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

// presignTTL is how long resource download links stay valid.
const presignTTL = 15 * time.Minute

// UploadResource handles POST /resources. The multipart body carries a key
// field and a file part; the file streams straight into the blob store.
func (h *Handler) UploadResource(w http.ResponseWriter, r *http.Request) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || params["boundary"] == "" {
		writeError(w, core.Malformed("multipart body required"))
		return
	}
	parser := formstream.NewParser(params["boundary"])

	var stored string
	err = parser.Register("file", func(reader io.Reader, header formstream.Header) error {
		key, _, _ := parser.Value("key")
		if key == "" {
			key = header.FileName()
		}
		if key == "" {
			return core.Malformed("key is required")
		}
		if err := h.store.Put(r.Context(), key, reader); err != nil {
			return err
		}
		stored = key
		return nil
	}, formstream.WithRequiredPart("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := parser.Parse(r.Body); err != nil {
		if core.KindOf(err) == core.KindMalformed {
			writeError(w, err)
			return
		}
		writeError(w, core.Malformed("invalid multipart body"))
		return
	}
	if stored == "" {
		writeError(w, core.Malformed("file part is required"))
		return
	}

	debug.Log("Resource uploaded", map[string]interface{}{"key": stored})
	writeJSON(w, http.StatusCreated, map[string]string{"key": stored})
}

// DownloadResource handles GET /resources/{key}. Agents follow presigned
// URLs here to fetch wordlists, rules and masks.
func (h *Handler) DownloadResource(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	reader, err := h.store.Get(r.Context(), key)
	if err != nil {
		writeError(w, core.NotFound("resource not found"))
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+key+"\"")
	if _, err := io.Copy(w, reader); err != nil {
		debug.Warning("resource download interrupted: key=%s error=%v", key, err)
	}
}

// PresignResource handles GET /resources/{key}/presign.
func (h *Handler) PresignResource(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	url, err := h.store.Presign(key, presignTTL)
	if err != nil {
		writeError(w, core.NotFound("resource not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"url":        url,
		"expires_in": int(presignTTL.Seconds()),
	})
}

// DeleteResource handles DELETE /resources/{key}.
func (h *Handler) DeleteResource(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := h.store.Delete(r.Context(), key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
