package mapping

// Normalizer is a custom keyword normalizer definition.
type Normalizer struct {
	Type   string   `json:"type"`
	Filter []string `json:"filter"`
}

// Analysis holds the analysis settings of an index.
type Analysis struct {
	Normalizer map[string]Normalizer `json:"normalizer,omitempty"`
}

// Settings are the index settings required by a mapping.
type Settings struct {
	Analysis *Analysis `json:"analysis,omitempty"`
}

// Index is a complete create-index request body.
type Index struct {
	Name     string   `json:"-"`
	Settings Settings `json:"settings"`
	Mappings *Mapping `json:"mappings"`
}

var knownNormalizers = map[string]Normalizer{
	LowercaseNormalizer: {Type: "custom", Filter: []string{"lowercase"}},
}

// NewIndex wraps a compiled mapping with the settings it depends on.
func NewIndex(prefix, shapeID string, m *Mapping) *Index {
	idx := &Index{Name: IndexName(prefix, shapeID), Mappings: m}
	for _, n := range m.Normalizers() {
		def, ok := knownNormalizers[n]
		if !ok {
			continue
		}
		if idx.Settings.Analysis == nil {
			idx.Settings.Analysis = &Analysis{Normalizer: make(map[string]Normalizer)}
		}
		idx.Settings.Analysis.Normalizer[n] = def
	}
	return idx
}
