package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"budgetviz/internal/core"
	"budgetviz/internal/upstream"
)

const maxJSONBody = 64 << 10

var errEmptyFile = errors.New("uploaded file is empty")

type selectRequest struct {
	Category   string `json:"category"`
	TimePeriod string `json:"timePeriod"`
}

// decodeJSON reads a size-limited JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func parseFilterPatch(w http.ResponseWriter, r *http.Request) (core.FilterPatch, error) {
	var p core.FilterPatch
	err := decodeJSON(w, r, &p)
	return p, err
}

func parseSelection(w http.ResponseWriter, r *http.Request) (selectRequest, error) {
	var sel selectRequest
	if err := decodeJSON(w, r, &sel); err != nil {
		return sel, err
	}
	sel.Category = strings.TrimSpace(sel.Category)
	sel.TimePeriod = strings.TrimSpace(sel.TimePeriod)
	return sel, nil
}

// parseUpload extracts the multipart "file" field. The request body must
// already be wrapped in a MaxBytesReader.
func parseUpload(r *http.Request, maxBytes int64) (upstream.UploadRequest, error) {
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return upstream.UploadRequest{}, err
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return upstream.UploadRequest{}, fmt.Errorf("missing file field: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return upstream.UploadRequest{}, fmt.Errorf("read file: %w", err)
	}
	if len(content) == 0 {
		return upstream.UploadRequest{}, errEmptyFile
	}
	return upstream.UploadRequest{Filename: hdr.Filename, Content: content}, nil
}
