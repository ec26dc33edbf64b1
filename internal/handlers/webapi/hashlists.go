package webapi

import (
	"bufio"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/mazrean/formstream"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
	"github.com/unclesp1d3r/cipherswarm/internal/services"
	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

// maxHashLineBytes bounds a single line of an uploaded hash file.
const maxHashLineBytes = 1 << 20

// UploadHashList handles POST /projects/{id}/hash_lists. The body is
// multipart: name and hash_type fields plus a file part with one hash per
// line. The file streams through formstream without buffering to disk.
func (h *Handler) UploadHashList(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.projects.GetByID(r.Context(), projectID); err != nil {
		writeError(w, err)
		return
	}

	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || params["boundary"] == "" {
		writeError(w, core.Malformed("multipart body required"))
		return
	}
	parser := formstream.NewParser(params["boundary"])

	var (
		hashType int
		values   []string
		skipped  int
	)
	err = parser.Register("file", func(reader io.Reader, header formstream.Header) error {
		hashTypeStr, _, _ := parser.Value("hash_type")
		ht, err := strconv.Atoi(hashTypeStr)
		if err != nil || ht < 0 {
			return core.Malformed("hash_type must be a hashcat mode number")
		}
		hashType = ht

		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 64*1024), maxHashLineBytes)
		seen := make(map[string]bool)
		for scanner.Scan() {
			value, err := services.CanonicalizeHash(ht, scanner.Text())
			if err != nil {
				skipped++
				continue
			}
			if seen[value] {
				skipped++
				continue
			}
			seen[value] = true
			values = append(values, value)
		}
		return scanner.Err()
	}, formstream.WithRequiredPart("name"), formstream.WithRequiredPart("hash_type"))
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

	name, _, ok := parser.Value("name")
	if !ok || name == "" {
		writeError(w, core.Malformed("name is required"))
		return
	}
	if len(values) == 0 {
		writeError(w, core.Malformed("file contains no usable hashes"))
		return
	}

	list := &models.HashList{
		ProjectID: projectID,
		Name:      name,
		HashType:  hashType,
	}
	if err := h.hashLists.Create(r.Context(), list); err != nil {
		writeError(w, err)
		return
	}
	items := make([]models.HashItem, len(values))
	for i, v := range values {
		items[i] = models.HashItem{HashListID: list.ID, HashValue: v}
	}
	added, err := h.hashLists.AddItems(r.Context(), list.ID, items)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cracks.NoteItemsAdded(list.ID, values)
	list.ItemCount = added

	debug.Log("Hash list uploaded", map[string]interface{}{
		"hash_list_id": list.ID,
		"project_id":   projectID,
		"items":        added,
		"skipped":      skipped,
	})
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"hash_list": list,
		"added":     added,
		"skipped":   skipped,
	})
}

// ListHashLists handles GET /projects/{id}/hash_lists.
func (h *Handler) ListHashLists(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	lists, err := h.hashLists.List(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lists)
}

// GetHashList handles GET /hash_lists/{id}.
func (h *Handler) GetHashList(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := h.hashLists.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListHashItems handles GET /hash_lists/{id}/items.
func (h *Handler) ListHashItems(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := h.hashLists.ListItems(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// ListCracks handles GET /hash_lists/{id}/cracks.
func (h *Handler) ListCracks(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	cracks, err := h.cracks.ListCracks(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cracks)
}
