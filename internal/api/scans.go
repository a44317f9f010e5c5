package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/korjavin/productinsight/internal/history"
	"github.com/korjavin/productinsight/internal/ocr"
	"github.com/korjavin/productinsight/internal/scoring"
	"github.com/korjavin/productinsight/internal/store"
	"github.com/korjavin/productinsight/internal/textparse"
)

const multipartMemory = 8 << 20

type analyzeResponse struct {
	Text        string   `json:"text"`
	Ingredients []string `json:"ingredients"`
	scoreResponse
}

// AnalyzeScan recognises the ingredient photo in the "ocr" part and scores
// it. Recognition failures score as an empty label.
func (h *Handler) AnalyzeScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize+multipartMemory)
	img, ok := readImage(w, r, "ocr")
	if !ok {
		return
	}

	text := ocr.TextOrEmpty(r.Context(), h.OCR, img, h.logger(r))
	names := textparse.Parse(text)
	resp, ok := h.score(w, r, names)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, analyzeResponse{Text: text, Ingredients: names, scoreResponse: resp})
}

// SaveScan stores the confirmed cover and label photos with their rank.
func (h *Handler) SaveScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 2*maxImageSize+multipartMemory)
	cover, ok := readImage(w, r, "cover")
	if !ok {
		return
	}
	label, ok := readImage(w, r, "ocr")
	if !ok {
		return
	}
	rank := scoring.Rank(r.FormValue("rank"))
	if !rank.Valid() {
		writeError(w, http.StatusBadRequest, "rank must be one of A, B, C, D, E")
		return
	}

	refs, err := h.Images.PutAll(cover, label)
	if err != nil {
		h.logger(r).Error("store images failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	scan, err := h.History.Insert(r.Context(), refs[0], refs[1], string(rank))
	if err != nil {
		if derr := h.Images.Delete(refs...); derr != nil {
			h.logger(r).Warn("orphaned images", "refs", refs, "error", derr)
		}
		h.logger(r).Error("insert scan failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.logger(r).Info("scan saved", "id", scan.ID, "rank", scan.Rank)
	writeJSON(w, http.StatusCreated, scan)
}

// ListScans returns saved scans, newest first.
func (h *Handler) ListScans(w http.ResponseWriter, r *http.Request) {
	limit := min(queryInt(r, "limit", 50), 200)
	scans, err := h.History.List(r.Context(), limit, queryInt(r, "offset", 0))
	if err != nil {
		h.logger(r).Error("list scans failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": scans})
}

// ScanImage serves the cover or label photo of a scan.
func (h *Handler) ScanImage(w http.ResponseWriter, r *http.Request) {
	scan, ok := h.lookupScan(w, r)
	if !ok {
		return
	}
	var ref string
	switch r.PathValue("kind") {
	case "cover":
		ref = scan.CoverImageRef
	case "ocr":
		ref = scan.OCRImageRef
	default:
		writeError(w, http.StatusNotFound, "image kind must be cover or ocr")
		return
	}

	data, err := h.Images.Get(ref)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		h.logger(r).Error("read image failed", "ref", ref, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	w.Write(data)
}

// DeleteScan removes a scan and its photos.
func (h *Handler) DeleteScan(w http.ResponseWriter, r *http.Request) {
	id, ok := scanID(w, r)
	if !ok {
		return
	}
	scan, err := h.History.Delete(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	if err != nil {
		h.logger(r).Error("delete scan failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := h.Images.Delete(scan.CoverImageRef, scan.OCRImageRef); err != nil {
		h.logger(r).Warn("delete images failed", "id", id, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) lookupScan(w http.ResponseWriter, r *http.Request) (history.Scan, bool) {
	id, ok := scanID(w, r)
	if !ok {
		return history.Scan{}, false
	}
	scan, err := h.History.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "scan not found")
		return history.Scan{}, false
	}
	if err != nil {
		h.logger(r).Error("get scan failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return history.Scan{}, false
	}
	return scan, true
}

func scanID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid scan id")
		return 0, false
	}
	return id, true
}

// readImage returns the bytes of the multipart file field, enforcing the
// per-image size cap.
func readImage(w http.ResponseWriter, r *http.Request, field string) ([]byte, bool) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing image field %q", field))
		return nil, false
	}
	defer f.Close()

	if hdr.Size > maxImageSize {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("image %q exceeds %d MiB", field, maxImageSize>>20))
		return nil, false
	}
	data, err := io.ReadAll(io.LimitReader(f, maxImageSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return nil, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("image %q is empty", field))
		return nil, false
	}
	if len(data) > maxImageSize {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("image %q exceeds %d MiB", field, maxImageSize>>20))
		return nil, false
	}
	return data, true
}
