package sentinel

type options struct {
	modelDir    string
	onnxLibrary string
	threshold   float64
}

// Option configures a Detector.
type Option func(*options)

// WithModelDir sets the model bundle directory (or manifest file).
// Default: "models".
func WithModelDir(dir string) Option {
	return func(o *options) {
		o.modelDir = dir
	}
}

// WithONNXLibrary sets the ONNX Runtime shared library for bundles whose
// manifest does not name one.
func WithONNXLibrary(path string) Option {
	return func(o *options) {
		o.onnxLibrary = path
	}
}

// WithThreshold sets the default anomaly threshold in [0, 1]. A record is
// anomalous when its probability is strictly greater. Default: 0.5.
func WithThreshold(t float64) Option {
	return func(o *options) {
		o.threshold = t
	}
}

func defaultOptions() options {
	return options{
		modelDir:  "models",
		threshold: 0.5,
	}
}
