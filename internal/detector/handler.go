package detector

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"logo-detector/internal/platform/metrics"
)

const (
	streamBoundary    = "frame"
	streamContentType = "multipart/x-mixed-replace; boundary=" + streamBoundary

	// maxUploadBytes caps the in-memory portion of reference uploads.
	maxUploadBytes = 32 << 20
)

// Handler exposes the detector's HTTP endpoints: the MJPEG stream, the stats
// snapshot, and reference reloads. It only ever reads SharedState; the
// processing loop is never blocked by a slow client.
type Handler struct {
	shared  *SharedState
	refs    *ReferenceSet
	log     *slog.Logger
	metrics *metrics.Metrics
	poll    time.Duration
}

// NewHandler returns a Handler. Metrics may be nil to disable metric
// recording (e.g. in tests). poll is the per-client interval for checking
// SharedState for a new frame.
func NewHandler(shared *SharedState, refs *ReferenceSet, log *slog.Logger, m *metrics.Metrics, poll time.Duration) *Handler {
	if poll <= 0 {
		poll = 33 * time.Millisecond
	}
	return &Handler{shared: shared, refs: refs, log: log, metrics: m, poll: poll}
}

// Stream handles GET /stream: a multipart/x-mixed-replace sequence of JPEG
// parts, one per newly published frame. Each client runs at its own pace; a
// part is written only when the shared sequence advances, and a disconnect
// only ends this client's loop.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.log.Error("stream: response writer does not support flushing")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.AddStreamClient(1)
		defer h.metrics.AddStreamClient(-1)
	}

	w.Header().Set("Content-Type", streamContentType)
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame, seq := h.shared.Frame()
			if frame == nil || seq == lastSeq {
				continue
			}
			lastSeq = seq

			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", streamBoundary, len(frame)); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := io.WriteString(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Stats handles GET /stats with the latest statistics snapshot as JSON.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.shared.Stats()); err != nil {
		h.log.Error("stats encode failed", slog.String("error", err.Error()))
	}
}

// StatsHTML handles GET /stats.html: a self-refreshing plain view of the
// same snapshot, handy for eyeballing the pipeline without the frontend.
func (h *Handler) StatsHTML(w http.ResponseWriter, r *http.Request) {
	pretty, err := json.MarshalIndent(h.shared.Stats(), "", "  ")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="1">
<style>
body { margin:0; background:#111; color:#eee; font-family: monospace; font-size:14px; }
pre  { padding:8px; }
</style>
</head><body>
<pre>%s</pre>
</body></html>`, pretty)
}

// SlotReloadResult reports the outcome of reloading one reference slot.
type SlotReloadResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Reload handles POST /reload. For each configured slot the form may carry
// either an uploaded image ("<slot>_file") or a filesystem path
// ("<slot>_path"); uploads win when both are present. Partial success is
// allowed and reported per slot. A slot whose input fails to decode or
// extract keeps its previous template.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	// Tolerate both multipart (uploads) and urlencoded (paths only) forms.
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && err != http.ErrNotMultipart {
		h.log.Debug("reload: bad form", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed form data"})
		return
	}

	results := make(map[SlotID]SlotReloadResult)
	attempted := 0

	for _, slot := range h.refs.Slots() {
		err, provided := h.reloadSlot(r, slot)
		if !provided {
			continue
		}
		attempted++
		if err != nil {
			h.log.Info("reference reload rejected",
				slog.String("slot", string(slot)),
				slog.String("error", err.Error()))
			results[slot] = SlotReloadResult{Status: "error", Error: err.Error()}
			continue
		}
		h.log.Info("reference reloaded", slog.String("slot", string(slot)))
		if h.metrics != nil {
			h.metrics.IncReloads()
		}
		results[slot] = SlotReloadResult{Status: "ok"}
	}

	if attempted == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no reference image provided"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]map[SlotID]SlotReloadResult{"slots": results})
}

// reloadSlot loads one slot from the request form. provided is false when
// the form carries neither an upload nor a path for the slot.
func (h *Handler) reloadSlot(r *http.Request, slot SlotID) (err error, provided bool) {
	if file, _, ferr := r.FormFile(string(slot) + "_file"); ferr == nil {
		defer file.Close()
		data, rerr := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if rerr != nil {
			return fmt.Errorf("%w: %v", ErrInvalidImage, rerr), true
		}
		mat, derr := DecodeImage(data)
		if derr != nil {
			return derr, true
		}
		defer mat.Close()
		return h.refs.Load(slot, mat), true
	}

	if path := r.FormValue(string(slot) + "_path"); path != "" {
		mat, derr := ReadImageFile(path)
		if derr != nil {
			return derr, true
		}
		defer mat.Close()
		return h.refs.Load(slot, mat), true
	}

	return nil, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
