package features

import (
	"hash/fnv"
	"sort"
	"strings"
)

// CodeKind distinguishes a vocabulary hit from the deterministic fallback
// used for values the encoder never saw at fit time.
type CodeKind int

const (
	Known CodeKind = iota
	Fallback
)

// Code is the tagged result of encoding one categorical value.
type Code struct {
	Kind  CodeKind
	Value int
}

// fallbackBuckets is the size of the reserved hash range above the known
// codes. Unseen values land in a stable bucket inside it.
const fallbackBuckets = 64

// LabelEncoder maps category strings to dense integer codes. Fitting
// assigns codes 0..n-1 in sorted vocabulary order; unseen values at encode
// time get a deterministic FNV bucket in [n, n+fallbackBuckets).
type LabelEncoder struct {
	Vocab map[string]int `json:"vocab"`
}

func FitLabelEncoder(values []string) *LabelEncoder {
	seen := map[string]struct{}{}
	for _, v := range values {
		seen[normalize(v)] = struct{}{}
	}
	vocab := make([]string, 0, len(seen))
	for v := range seen {
		vocab = append(vocab, v)
	}
	sort.Strings(vocab)

	enc := &LabelEncoder{Vocab: make(map[string]int, len(vocab))}
	for i, v := range vocab {
		enc.Vocab[v] = i
	}
	return enc
}

// Encode never fails: training vocabulary hits are Known, everything else is
// a Fallback bucket that is stable across processes and runs.
func (e *LabelEncoder) Encode(value string) Code {
	v := normalize(value)
	if code, ok := e.Vocab[v]; ok {
		return Code{Kind: Known, Value: code}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(v))
	bucket := int(h.Sum32() % fallbackBuckets)
	return Code{Kind: Fallback, Value: len(e.Vocab) + bucket}
}

func (e *LabelEncoder) Size() int { return len(e.Vocab) }

// Encoders bundles the fitted categorical encoders serialized into the
// artifact.
type Encoders struct {
	Make     *LabelEncoder `json:"make"`
	Model    *LabelEncoder `json:"model"`
	Trim     *LabelEncoder `json:"trim"`
	Fuel     *LabelEncoder `json:"fuel"`
	Location *LabelEncoder `json:"location"`
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
