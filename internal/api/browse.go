package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// browseImagePath returns the proxy URL serving a browse item's image.
func browseImagePath(deviceID, contentType, contentID string) string {
	q := url.Values{}
	q.Set("content_type", contentType)
	q.Set("content_id", contentID)
	return "/api/v1/devices/" + url.PathEscape(deviceID) + "/browse/image?" + q.Encode()
}

// handleBrowse returns a node of the device's media browse tree. App
// thumbnails point at the image proxy so clients never talk to the device.
//
// Query parameters:
//   - content_type: "library" (default), "apps" or "channels"
//   - content_id: the node's content ID
func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, ok := s.devices.Entry(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	q := r.URL.Query()
	node, err := entry.MediaPlayer.BrowseMedia(q.Get("content_type"), q.Get("content_id"),
		func(contentType, contentID string) string {
			return browseImagePath(id, contentType, contentID)
		})
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, node)
}

// handleBrowseImage proxies the image of a browse item.
//
// Query parameters:
//   - content_type: only "app" has images
//   - content_id: the app ID
//   - image_id: accepted and unused
func (s *Server) handleBrowseImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, ok := s.devices.Entry(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	q := r.URL.Query()
	data, contentType, err := entry.MediaPlayer.BrowseImage(r.Context(),
		q.Get("content_type"), q.Get("content_id"), q.Get("image_id"))
	if err != nil {
		s.logger.Warn("browse image fetch failed", "device", id, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "image fetch failed")
		return
	}
	if data == nil {
		writeNotFound(w, "no image for "+q.Get("content_type"))
		return
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "max-age="+strconv.Itoa(browseImageMaxAge))
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(data)
}

// browseImageMaxAge is the client cache lifetime of proxied images (seconds).
const browseImageMaxAge = 3600
