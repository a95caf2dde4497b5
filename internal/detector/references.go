package detector

import (
	"fmt"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// ReferenceSet holds the currently active reference templates, one per
// configured slot. Loads replace a slot's template as a single atomic swap of
// the whole template slice, so a Matcher holding a Snapshot never observes a
// half-updated template. Replaced templates are intentionally not released:
// an in-flight match may still hold the old snapshot, and reloads are rare.
type ReferenceSet struct {
	mu        sync.Mutex // serializes loads; snapshots never take it
	extractor Extractor
	slots     []SlotID
	current   atomic.Pointer[[]*ReferenceTemplate]
}

// NewReferenceSet creates a set with the given configured slot order and its
// own feature extractor. All slots start empty; a slot without a template is
// simply never reported as detected.
func NewReferenceSet(slots []SlotID, extractor Extractor) *ReferenceSet {
	r := &ReferenceSet{
		extractor: extractor,
		slots:     append([]SlotID(nil), slots...),
	}
	empty := make([]*ReferenceTemplate, 0, len(slots))
	r.current.Store(&empty)
	return r
}

// Slots returns the configured slot names in order.
func (r *ReferenceSet) Slots() []SlotID {
	return append([]SlotID(nil), r.slots...)
}

// Load extracts features from the given decoded image and installs it as the
// new template for slot. On any failure the previous template stays active.
// The image is cloned; the caller keeps ownership of img.
func (r *ReferenceSet) Load(slot SlotID, img gocv.Mat) error {
	if !r.hasSlot(slot) {
		return fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	fs, err := r.extractor.Extract(img)
	if err != nil {
		return fmt.Errorf("%w: slot %s: %v", ErrFeatureExtraction, slot, err)
	}

	tpl := &ReferenceTemplate{
		Slot:        slot,
		Image:       img.Clone(),
		Keypoints:   fs.Keypoints,
		Descriptors: fs.Descriptors,
	}

	// Copy-on-write: rebuild the slice in configured slot order and swap.
	old := *r.current.Load()
	next := make([]*ReferenceTemplate, 0, len(old)+1)
	for _, s := range r.slots {
		if s == slot {
			next = append(next, tpl)
			continue
		}
		for _, t := range old {
			if t.Slot == s {
				next = append(next, t)
				break
			}
		}
	}
	r.current.Store(&next)
	return nil
}

// Snapshot returns the current templates in slot order. The returned slice
// and its templates are immutable; it is safe to use for a full matching
// cycle while loads proceed concurrently.
func (r *ReferenceSet) Snapshot() []*ReferenceTemplate {
	return *r.current.Load()
}

func (r *ReferenceSet) hasSlot(slot SlotID) bool {
	for _, s := range r.slots {
		if s == slot {
			return true
		}
	}
	return false
}

// DecodeImage decodes reference image bytes (e.g. an upload) into a pixel
// buffer. The caller owns the returned Mat.
func DecodeImage(data []byte) (gocv.Mat, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, ErrInvalidImage
	}
	return mat, nil
}

// ReadImageFile decodes a reference image from a filesystem path. The caller
// owns the returned Mat.
func ReadImageFile(path string) (gocv.Mat, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, fmt.Errorf("%w: %s", ErrInvalidImage, path)
	}
	return mat, nil
}
