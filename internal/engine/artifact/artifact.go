// Package artifact loads a trained model bundle: the feature schema, the
// feature encoding fixed at fitting time, and the scoring capability.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/crimson-sun/sentinel/internal/engine/features"
	"github.com/crimson-sun/sentinel/internal/engine/scorer"
	"github.com/crimson-sun/sentinel/internal/engine/vectorizer"
)

// ManifestName is the file looked up when Load is given a directory.
const ManifestName = "manifest.yaml"

// Scorer kinds.
const (
	KindLogistic = "logistic"
	KindONNX     = "onnx"
)

// Manifest is the on-disk description of a model bundle.
type Manifest struct {
	Name          string       `yaml:"name"`
	Version       string       `yaml:"version"`
	FeatureSchema []string     `yaml:"feature_schema"`
	DeltaScaling  *ScalingSpec `yaml:"delta_scaling"`
	Text          *TextSpec    `yaml:"text"`
	Scorer        ScorerSpec   `yaml:"scorer"`
}

// ScalingSpec standardizes delta.
type ScalingSpec struct {
	Mean  float64 `yaml:"mean"`
	Scale float64 `yaml:"scale"`
}

// TextSpec is the fixed text vocabulary and its transform options.
type TextSpec struct {
	Prefix           string             `yaml:"prefix"`
	NGramRange       []int              `yaml:"ngram_range"`
	EnglishStopWords bool               `yaml:"english_stop_words"`
	StopWords        []string           `yaml:"stop_words"`
	SublinearTF      bool               `yaml:"sublinear_tf"`
	Norm             string             `yaml:"norm"`
	Vocabulary       map[string]float64 `yaml:"vocabulary"`
}

// ScorerSpec selects and parameterizes the scoring capability.
type ScorerSpec struct {
	Kind      string             `yaml:"kind"`
	Intercept float64            `yaml:"intercept"`
	Weights   map[string]float64 `yaml:"weights"`
	ONNX      *ONNXSpec          `yaml:"onnx"`
}

// ONNXSpec points at an exported ONNX classifier relative to the manifest.
type ONNXSpec struct {
	Path          string `yaml:"path"`
	Library       string `yaml:"library"`
	Input         string `yaml:"input"`
	Output        string `yaml:"output"`
	PositiveIndex *int   `yaml:"positive_index"` // absent means 1
	Threads       int    `yaml:"threads"`
}

// Artifact is a loaded model bundle. It is immutable after Load and may be
// shared read-only by concurrent callers.
type Artifact struct {
	Name     string
	Version  string
	Path     string
	Schema   features.Schema
	Encoding features.Encoding
	Model    scorer.Model
}

// Option adjusts how a bundle is loaded.
type Option func(*loadOptions)

type loadOptions struct {
	onnxLibrary string
}

// WithONNXLibrary sets the ONNX Runtime shared library used when the
// manifest does not name one.
func WithONNXLibrary(path string) Option {
	return func(o *loadOptions) { o.onnxLibrary = path }
}

// Load reads a model bundle from a directory containing manifest.yaml or from
// the manifest file itself. A missing or unloadable bundle yields
// *scorer.ModelUnavailableError.
func Load(path string, opts ...Option) (*Artifact, error) {
	manifestPath := path
	info, err := os.Stat(path)
	if err != nil {
		return nil, &scorer.ModelUnavailableError{Path: path, Err: err}
	}
	if info.IsDir() {
		manifestPath = filepath.Join(path, ManifestName)
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &scorer.ModelUnavailableError{Path: manifestPath, Err: err}
	}
	a, err := Parse(data, filepath.Dir(manifestPath), opts...)
	if err != nil {
		return nil, err
	}
	a.Path = manifestPath
	return a, nil
}

// Parse builds an Artifact from manifest bytes. Relative file references are
// resolved against baseDir.
func Parse(data []byte, baseDir string, opts ...Option) (*Artifact, error) {
	var lo loadOptions
	for _, opt := range opts {
		opt(&lo)
	}
	var m Manifest
	if err := yaml.UnmarshalStrict(data, &m); err != nil {
		return nil, &scorer.ModelUnavailableError{Path: baseDir, Err: fmt.Errorf("manifest: %w", err)}
	}

	schema := features.Schema(m.FeatureSchema)
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", m.Name, err)
	}

	enc := features.Encoding{}
	if m.DeltaScaling != nil {
		if m.DeltaScaling.Scale < 0 {
			return nil, fmt.Errorf("artifact %s: negative delta scale %v", m.Name, m.DeltaScaling.Scale)
		}
		enc.Delta = features.Scaling{Mean: m.DeltaScaling.Mean, Scale: m.DeltaScaling.Scale}
	}
	if m.Text != nil {
		text, err := newText(*m.Text)
		if err != nil {
			return nil, fmt.Errorf("artifact %s: %w", m.Name, err)
		}
		enc.Text = text
	}

	mdl, err := newModel(m.Scorer, schema, baseDir, lo)
	if err != nil {
		return nil, err
	}

	return &Artifact{
		Name:     m.Name,
		Version:  m.Version,
		Path:     baseDir,
		Schema:   schema,
		Encoding: enc,
		Model:    mdl,
	}, nil
}

func newText(spec TextSpec) (*vectorizer.TFIDF, error) {
	cfg := vectorizer.Config{
		Prefix:           spec.Prefix,
		Vocabulary:       spec.Vocabulary,
		StopWords:        spec.StopWords,
		EnglishStopWords: spec.EnglishStopWords,
		SublinearTF:      spec.SublinearTF,
		Norm:             spec.Norm,
	}
	switch len(spec.NGramRange) {
	case 0:
	case 2:
		cfg.NGramMin, cfg.NGramMax = spec.NGramRange[0], spec.NGramRange[1]
	default:
		return nil, fmt.Errorf("text: ngram_range must have two values, got %v", spec.NGramRange)
	}
	return vectorizer.New(cfg)
}

func newModel(spec ScorerSpec, schema features.Schema, baseDir string, lo loadOptions) (scorer.Model, error) {
	switch spec.Kind {
	case KindLogistic:
		mdl, err := scorer.NewLogistic(spec.Weights, spec.Intercept, schema)
		if err != nil {
			return nil, &scorer.ModelUnavailableError{Path: baseDir, Err: err}
		}
		return mdl, nil
	case KindONNX:
		if spec.ONNX == nil || spec.ONNX.Path == "" {
			return nil, &scorer.ModelUnavailableError{Path: baseDir, Err: errors.New("onnx scorer without model path")}
		}
		modelPath := resolve(baseDir, spec.ONNX.Path)
		if _, err := os.Stat(modelPath); err != nil {
			return nil, &scorer.ModelUnavailableError{Path: modelPath, Err: err}
		}
		cfg := scorer.ONNXConfig{
			Path:          modelPath,
			Input:         spec.ONNX.Input,
			Output:        spec.ONNX.Output,
			PositiveIndex: spec.ONNX.PositiveIndex,
			Threads:       spec.ONNX.Threads,
		}
		switch {
		case spec.ONNX.Library != "":
			cfg.LibraryPath = resolve(baseDir, spec.ONNX.Library)
		case lo.onnxLibrary != "":
			cfg.LibraryPath = lo.onnxLibrary
		}
		mdl, err := scorer.NewONNX(cfg, len(schema))
		if err != nil {
			return nil, &scorer.ModelUnavailableError{Path: modelPath, Err: err}
		}
		return mdl, nil
	case "":
		return nil, &scorer.ModelUnavailableError{Path: baseDir, Err: errors.New("manifest declares no scorer kind")}
	default:
		return nil, &scorer.ModelUnavailableError{Path: baseDir, Err: fmt.Errorf("unknown scorer kind %q", spec.Kind)}
	}
}

func resolve(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Close releases the scoring capability.
func (a *Artifact) Close() error {
	if a.Model != nil {
		return a.Model.Close()
	}
	return nil
}
