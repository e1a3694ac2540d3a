package extract

// ModelMetadata is the deep-merged model/group metadata spec.md §4.3
// describes: group_metadata merged with the specific inference block, with
// the input_spec sub-object itself deep-merged (not replaced wholesale).
type ModelMetadata struct {
	Setter     string
	InputSpec  InputSpec
	MimeTypes  []string // mime whitelist; empty means "no restriction"
	LRUSize    int
	TTLSeconds int
	CacheKey   string
}

// InputSpec names the handler that prepares inference inputs and the
// handler-specific knobs spec.md §4.3 lists.
type InputSpec struct {
	Handler      string // image_frames | audio_tracks | audio_files | extracted_text | md5 | md5_image | sha256_md5_path
	MaxFrames    int
	SliceByAspect bool
	SliceGrid    [2]int // rows, cols for pixel-grid slicing
	SampleRate   int
	Threshold    float64
}

// mergeMetadata deep-merges override on top of base, following spec.md's
// "group_metadata merged with the specific inference block; input_spec
// deep-merged" rule: scalar fields in override win when non-zero, and
// InputSpec is merged field-by-field rather than replaced wholesale.
func mergeMetadata(base, override ModelMetadata) ModelMetadata {
	out := base
	if override.Setter != "" {
		out.Setter = override.Setter
	}
	if len(override.MimeTypes) > 0 {
		out.MimeTypes = append([]string(nil), override.MimeTypes...)
	}
	if override.LRUSize > 0 {
		out.LRUSize = override.LRUSize
	}
	if override.TTLSeconds > 0 {
		out.TTLSeconds = override.TTLSeconds
	}
	if override.CacheKey != "" {
		out.CacheKey = override.CacheKey
	}
	out.InputSpec = mergeInputSpec(base.InputSpec, override.InputSpec)
	return out
}

func mergeInputSpec(base, override InputSpec) InputSpec {
	out := base
	if override.Handler != "" {
		out.Handler = override.Handler
	}
	if override.MaxFrames > 0 {
		out.MaxFrames = override.MaxFrames
	}
	if override.SliceByAspect {
		out.SliceByAspect = true
	}
	if override.SliceGrid != [2]int{} {
		out.SliceGrid = override.SliceGrid
	}
	if override.SampleRate > 0 {
		out.SampleRate = override.SampleRate
	}
	if override.Threshold != 0 {
		out.Threshold = override.Threshold
	}
	return out
}
