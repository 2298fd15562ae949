// Package render turns committed field values into a flattened, immutable
// artifact of the source document.
package render

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/avolkov/signdesk/internal/server/models"
)

// Overlay is one value placed at page coordinates. Coordinates are
// normalized page fractions, matching the field geometry.
type Overlay struct {
	Page  int              `json:"page"`
	X     float64          `json:"x"`
	Y     float64          `json:"y"`
	W     float64          `json:"w"`
	H     float64          `json:"h"`
	Kind  models.FieldType `json:"kind"`
	Value string           `json:"value"`
}

// Flattener produces the completed artifact from the source document and
// the committed overlays.
type Flattener interface {
	Flatten(source []byte, overlays []Overlay) ([]byte, error)
}

// FieldOverlays converts committed fields into overlays. Unchecked
// checkboxes are dropped; a checked one becomes a mark.
func FieldOverlays(flds []*models.SignatureField) []Overlay {
	var overlays []Overlay
	for _, f := range flds {
		value := f.Value
		if f.Type == models.FieldCheckbox {
			if value != "true" {
				continue
			}
			value = "X"
		}
		overlays = append(overlays, Overlay{
			Page: f.Page,
			X:    f.CoordX, Y: f.CoordY, W: f.CoordW, H: f.CoordH,
			Kind:  f.Type,
			Value: value,
		})
	}
	return overlays
}

const manifestMarker = "\n%%signdesk-overlay-manifest\n"

// ManifestFlattener appends a deterministic overlay manifest to the source
// bytes. Visual stamping of the PDF is delegated to the rendering pipeline
// downstream; the manifest pins which value sits at which coordinate, plus
// a digest of the source it was computed against.
type ManifestFlattener struct{}

func (ManifestFlattener) Flatten(source []byte, overlays []Overlay) ([]byte, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("empty source document")
	}

	sorted := make([]Overlay, len(overlays))
	copy(sorted, overlays)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Page != sorted[j].Page {
			return sorted[i].Page < sorted[j].Page
		}
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y < sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	sum := sha256.Sum256(source)
	manifest, err := json.Marshal(struct {
		SourceSHA256 string    `json:"source_sha256"`
		Overlays     []Overlay `json:"overlays"`
	}{
		SourceSHA256: hex.EncodeToString(sum[:]),
		Overlays:     sorted,
	})
	if err != nil {
		return nil, fmt.Errorf("manifest marshal error: %w", err)
	}

	var out bytes.Buffer
	out.Grow(len(source) + len(manifestMarker) + len(manifest))
	out.Write(source)
	out.WriteString(manifestMarker)
	out.Write(manifest)

	return out.Bytes(), nil
}
