package crew

import (
	"fmt"
	"time"
)

// InputBundle carries the run parameters rendered into every task. It is
// passed by value and never mutated during a run.
type InputBundle struct {
	DatasetPath string `json:"dataset_path"`
	UseSample   bool   `json:"use_sample"`
	// SampleSize is zero when the full dataset is used.
	SampleSize  int    `json:"sample_size,omitempty"`
	FeaturesDir string `json:"features_dir"`
	ModelsDir   string `json:"models_dir"`
	ReportsDir  string `json:"reports_dir"`
	CurrentYear int    `json:"current_year"`
}

// NewInputBundle builds a bundle for the current year.
func NewInputBundle(dataset, featuresDir, modelsDir, reportsDir string, useSample bool, sampleSize int, now time.Time) InputBundle {
	b := InputBundle{
		DatasetPath: dataset,
		UseSample:   useSample,
		FeaturesDir: featuresDir,
		ModelsDir:   modelsDir,
		ReportsDir:  reportsDir,
		CurrentYear: now.Year(),
	}
	if useSample {
		b.SampleSize = sampleSize
	}
	return b
}

// SampleDescription describes the sampling mode in prose.
func (b InputBundle) SampleDescription() string {
	if b.UseSample && b.SampleSize > 0 {
		return fmt.Sprintf("a sample of the first %d rows", b.SampleSize)
	}
	return "the full dataset"
}

// Mode returns a short label of the sampling mode.
func (b InputBundle) Mode() string {
	if b.UseSample && b.SampleSize > 0 {
		return fmt.Sprintf("development (%d samples)", b.SampleSize)
	}
	return "production (full dataset)"
}
