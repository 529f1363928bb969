package scorer

import (
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/crimson-sun/sentinel/internal/engine/features"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

// initORT initializes the ONNX Runtime environment. Only the first call has
// any effect; later calls return the first call's result.
func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNXConfig locates an exported classifier and names its tensors.
type ONNXConfig struct {
	Path          string // model.onnx
	LibraryPath   string // ONNX Runtime shared library; defaults to libonnxruntime.so next to the model
	Input         string // float input tensor [N, F]; defaults to the model's first input
	Output        string // probability tensor [N, classes]; defaults to "probabilities"
	PositiveIndex *int   // class column holding P(anomaly); nil means 1
	Threads       int    // intra-op threads; default 4
}

// positiveClass resolves the probability column to read. A nil index
// selects column 1, the positive class of a binary classifier.
func positiveClass(idx *int, classes int64) (int64, error) {
	positive := int64(1)
	if idx != nil {
		positive = int64(*idx)
	}
	if positive < 0 || positive >= classes {
		return 0, fmt.Errorf("onnx: positive class index %d outside %d classes", positive, classes)
	}
	return positive, nil
}

// ONNX scores feature matrices with a classifier exported to ONNX, such as a
// scikit-learn pipeline converted with zipmap disabled.
type ONNX struct {
	session  *ort.DynamicAdvancedSession
	input    string
	output   string
	features int64
	classes  int64
	positive int64
}

// NewONNX loads the model and validates its input and output tensors against
// the feature width.
func NewONNX(cfg ONNXConfig, width int) (*ONNX, error) {
	libPath := cfg.LibraryPath
	if libPath == "" {
		libPath = filepath.Join(filepath.Dir(cfg.Path), "libonnxruntime.so")
	}
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("onnx: model has no inputs")
	}

	inName := cfg.Input
	if inName == "" {
		inName = inputs[0].Name
	}
	in, ok := findInfo(inputs, inName)
	if !ok {
		return nil, fmt.Errorf("onnx: model missing input %q", inName)
	}
	if dims := in.Dimensions; len(dims) != 2 {
		return nil, fmt.Errorf("onnx: expected 2D input tensor, got %v", dims)
	} else if dims[1] > 0 && dims[1] != int64(width) {
		return nil, fmt.Errorf("onnx: input width %d != feature schema width %d", dims[1], width)
	}

	outName := cfg.Output
	if outName == "" {
		outName = "probabilities"
	}
	out, ok := findInfo(outputs, outName)
	if !ok {
		return nil, fmt.Errorf("onnx: model missing output %q", outName)
	}
	classes := int64(2)
	if dims := out.Dimensions; len(dims) != 2 {
		return nil, fmt.Errorf("onnx: expected 2D probability tensor, got %v", dims)
	} else if dims[1] > 0 {
		classes = dims[1]
	}
	positive, err := positiveClass(cfg.PositiveIndex, classes)
	if err != nil {
		return nil, err
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer opts.Destroy()
	threads := cfg.Threads
	if threads <= 0 {
		threads = 4
	}
	opts.SetIntraOpNumThreads(threads)
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(cfg.Path, []string{inName}, []string{outName}, opts)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	return &ONNX{
		session:  session,
		input:    inName,
		output:   outName,
		features: int64(width),
		classes:  classes,
		positive: positive,
	}, nil
}

func findInfo(infos []ort.InputOutputInfo, name string) (ort.InputOutputInfo, bool) {
	for _, info := range infos {
		if info.Name == name {
			return info, true
		}
	}
	return ort.InputOutputInfo{}, false
}

// Score runs one inference call over the whole matrix.
func (o *ONNX) Score(m features.Matrix) ([]float64, error) {
	n := int64(m.Len())
	if n == 0 {
		return nil, nil
	}
	if int64(m.Width()) != o.features {
		return nil, fmt.Errorf("onnx: matrix width %d != model width %d", m.Width(), o.features)
	}

	flat := make([]float32, 0, n*o.features)
	for _, row := range m.Rows {
		for _, v := range row {
			flat = append(flat, float32(v))
		}
	}

	tIn, err := ort.NewTensor(ort.NewShape(n, o.features), flat)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create input tensor: %w", err)
	}
	defer tIn.Destroy()

	tOut, err := ort.NewEmptyTensor[float32](ort.NewShape(n, o.classes))
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}
	defer tOut.Destroy()

	if err := o.session.Run([]ort.Value{tIn}, []ort.Value{tOut}); err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}

	data := tOut.GetData()
	probs := make([]float64, n)
	for i := int64(0); i < n; i++ {
		probs[i] = float64(data[i*o.classes+o.positive])
	}
	return probs, nil
}

// Close releases the ONNX session resources.
func (o *ONNX) Close() error {
	return o.session.Destroy()
}
