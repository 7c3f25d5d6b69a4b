package corpus

// SeedPhrase is one original command phrase from the input file.
// The input collaborator builds these; the pipeline never mutates them.
type SeedPhrase struct {
	Text     string
	Intent   string
	Language string
}

// Variation is a paraphrase of a seed phrase that preserves its intent.
type Variation struct {
	Source SeedPhrase
	Text   string
}

// VoiceProfile selects a synthetic voice for audio rendering.
// These are static registry data shared read-only by all tasks in a run.
type VoiceProfile struct {
	ID       string `yaml:"id"`
	Language string `yaml:"language"`
	Region   string `yaml:"region,omitempty"`
}
