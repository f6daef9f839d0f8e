package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driveline/priceengine/internal/features"
	"github.com/driveline/priceengine/internal/ml"
	"github.com/driveline/priceengine/internal/vision"
)

// Artifact is one serialized, versioned training output: the fitted model
// plus everything needed to reproduce its input space. Immutable once
// written; later runs write new versions, never overwrite.
type Artifact struct {
	Algorithm string    `json:"algorithm"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`

	// FeatureNames is the tabular column order the model was fit on. Order
	// is load-bearing; the Prediction Service asserts against it.
	FeatureNames []string `json:"feature_names"`

	ImageModality bool `json:"image_modality"`
	ImageDim      int  `json:"image_dim,omitempty"`

	Metrics  Metrics            `json:"metrics"`
	Scaler   *Scaler            `json:"scaler"`
	Engineer *features.Engineer `json:"engineer"`
	Reducer  *vision.Reducer    `json:"reducer,omitempty"`

	Model json.RawMessage `json:"model"`

	Checksum string `json:"checksum"`

	regressor ml.Regressor
}

// Regressor returns the decoded model. Only valid on artifacts that came
// through LoadArtifact or had Finalize called.
func (a *Artifact) Regressor() ml.Regressor { return a.regressor }

// Finalize decodes the embedded model payload and verifies structural
// integrity. Load-time counterpart of Seal.
func (a *Artifact) Finalize() error {
	if len(a.FeatureNames) == 0 {
		return errors.New("artifact missing feature names")
	}
	if len(a.Model) == 0 {
		return errors.New("artifact missing model payload")
	}
	if a.Scaler == nil || a.Engineer == nil {
		return errors.New("artifact missing preprocessing state")
	}
	if a.ImageModality && a.Reducer == nil {
		return errors.New("image-modality artifact missing reducer")
	}
	r, err := ml.Decode(a.Algorithm, a.Model)
	if err != nil {
		return err
	}
	a.regressor = r
	return nil
}

// Seal sets the regressor payload and checksum prior to saving.
func (a *Artifact) Seal(r ml.Regressor) error {
	raw, err := ml.Encode(r)
	if err != nil {
		return err
	}
	a.Model = raw
	a.regressor = r
	sum, err := a.computeChecksum()
	if err != nil {
		return err
	}
	a.Checksum = sum
	return nil
}

func (a *Artifact) computeChecksum() (string, error) {
	shadow := *a
	shadow.Checksum = ""
	b, err := json.Marshal(&shadow)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func (a *Artifact) verifyChecksum() error {
	if a.Checksum == "" {
		return errors.New("artifact missing checksum")
	}
	want := a.Checksum
	got, err := a.computeChecksum()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("artifact checksum mismatch (stored %s..., computed %s...)", want[:8], got[:8])
	}
	return nil
}

// NewVersionTag mints a tag that sorts strictly after every tag minted
// earlier: v<unix-seconds>-<uuid fragment>.
func NewVersionTag() string {
	return fmt.Sprintf("v%d-%s", time.Now().Unix(), uuid.NewString()[:8])
}

// versionOrdinal extracts the sortable timestamp component of a tag.
// Returns -1 for tags it cannot parse.
func versionOrdinal(tag string) int64 {
	rest, ok := strings.CutPrefix(tag, "v")
	if !ok {
		return -1
	}
	num, _, _ := strings.Cut(rest, "-")
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func artifactFilename(tag string) string {
	return "artifact-" + tag + ".json"
}

// SaveArtifact writes the sealed bundle under dir. It refuses a version tag
// that does not sort strictly after every tag already on disk, and writes
// atomically (tmp + rename) so a crashed run never leaves a truncated
// artifact under a valid name.
func SaveArtifact(dir string, a *Artifact) (string, error) {
	if a.Checksum == "" {
		return "", errors.New("artifact not sealed")
	}
	ord := versionOrdinal(a.Version)
	if ord < 0 {
		return "", fmt.Errorf("unparseable version tag %q", a.Version)
	}

	existing, err := ListVersions(dir)
	if err != nil {
		return "", err
	}
	for _, tag := range existing {
		if versionOrdinal(tag) >= ord {
			return "", fmt.Errorf("version %s does not supersede existing %s", a.Version, tag)
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	// Compact marshal keeps the embedded model payload byte-identical
	// through a load/remarshal cycle, which the checksum depends on.
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, artifactFilename(a.Version))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

// LoadArtifact reads, integrity-checks and finalizes one version.
func LoadArtifact(dir, tag string) (*Artifact, error) {
	b, err := os.ReadFile(filepath.Join(dir, artifactFilename(tag)))
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", tag, err)
	}
	if a.Version != tag {
		return nil, fmt.Errorf("artifact %s declares version %s", tag, a.Version)
	}
	if err := a.verifyChecksum(); err != nil {
		return nil, err
	}
	if err := a.Finalize(); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListVersions returns all artifact tags under dir, newest first.
func ListVersions(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var tags []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "artifact-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		tag := strings.TrimSuffix(strings.TrimPrefix(name, "artifact-"), ".json")
		if versionOrdinal(tag) < 0 {
			continue
		}
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		oi, oj := versionOrdinal(tags[i]), versionOrdinal(tags[j])
		if oi != oj {
			return oi > oj
		}
		return tags[i] > tags[j]
	})
	return tags, nil
}
