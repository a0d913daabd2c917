package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/peekguard/peekguard/internal/entity"
)

// RecognizerIDNER is the registry id of the model-based recognizer.
const RecognizerIDNER = "ner"

// NERConfig configures the ONNX sequence-labeling recognizer.
type NERConfig struct {
	Dir      string // model directory: model.onnx, labels.json, vocab.txt
	SeqLen   int
	PoolSize int // concurrent inference sessions; bounds in-flight model invocations
}

// NERRecognizer runs a pretrained token-classification model and decodes
// BIO labels into candidate spans. The loaded model is immutable after
// Load; inference concurrency is bounded by a fixed pool of preallocated
// sessions.
type NERRecognizer struct {
	tokenizer *wordPieceTokenizer
	labels    []string
	seqLen    int
	numLabels int
	sessions  chan *nerSession
	poolSize  int
	closed    atomic.Bool
}

type nerSession struct {
	session       *ort.AdvancedSession
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

// nerTypeMap translates the model's label vocabulary to the service's
// entity-type catalog. Labels without a mapping are ignored.
var nerTypeMap = map[string]string{
	"PER":    entity.TypePerson,
	"PERSON": entity.TypePerson,
	"LOC":    entity.TypeLocation,
	"GPE":    entity.TypeLocation,
	"ORG":    entity.TypeOrganization,
	"EMAIL":  entity.TypeEmailAddress,
	"PHONE":  entity.TypePhoneNumber,
}

// LoadNER initializes the ONNX runtime, tokenizer, and session pool.
// Call Close on shutdown to release the sessions.
func LoadNER(cfg NERConfig) (*NERRecognizer, error) {
	if cfg.Dir == "" {
		return nil, errors.New("ner: model dir is empty")
	}
	if cfg.SeqLen <= 0 {
		cfg.SeqLen = 256
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}

	modelPath := filepath.Join(cfg.Dir, "model.onnx")
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("ner: model file missing at %s: %w", modelPath, err)
	}

	labels, err := loadLabels(filepath.Join(cfg.Dir, "labels.json"))
	if err != nil {
		return nil, fmt.Errorf("ner: load labels: %w", err)
	}

	tokenizer, err := loadWordPieceTokenizer(filepath.Join(cfg.Dir, "vocab.txt"))
	if err != nil {
		return nil, fmt.Errorf("ner: load tokenizer: %w", err)
	}

	if libPath := resolveSharedLibraryPath(cfg.Dir); libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	} else {
		return nil, errors.New("ner: onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("ner: initialize onnxruntime: %w", err)
		}
	}

	r := &NERRecognizer{
		tokenizer: tokenizer,
		labels:    labels,
		seqLen:    cfg.SeqLen,
		numLabels: len(labels),
		sessions:  make(chan *nerSession, cfg.PoolSize),
		poolSize:  cfg.PoolSize,
	}

	for i := 0; i < cfg.PoolSize; i++ {
		ss, err := newNERSession(modelPath, cfg.SeqLen, len(labels))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("ner: create session %d: %w", i, err)
		}
		r.sessions <- ss
	}
	return r, nil
}

func newNERSession(modelPath string, seqLen, numLabels int) (*nerSession, error) {
	inputShape := ort.NewShape(1, int64(seqLen))
	inputIDs, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate input_ids tensor: %w", err)
	}
	attnMask, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		inputIDs.Destroy()
		return nil, fmt.Errorf("allocate attention_mask tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(seqLen), int64(numLabels)))
	if err != nil {
		inputIDs.Destroy()
		attnMask.Destroy()
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		[]ort.Value{inputIDs, attnMask},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		inputIDs.Destroy()
		attnMask.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &nerSession{
		session:       session,
		inputIDs:      inputIDs,
		attentionMask: attnMask,
		output:        output,
	}, nil
}

func (r *NERRecognizer) ID() string { return RecognizerIDNER }

// Ready reports whether the recognizer can serve inference requests.
// It goes false once Close has released the session pool.
func (r *NERRecognizer) Ready() bool {
	return r != nil && !r.closed.Load()
}

// Detect tokenizes the text, runs pooled inference, and projects BIO
// token labels back onto byte offsets.
func (r *NERRecognizer) Detect(ctx context.Context, text, locale string) ([]entity.Span, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var ss *nerSession
	select {
	case ss = <-r.sessions:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { r.sessions <- ss }()

	inputIDs, attn, offsets := r.tokenizer.encode(text, r.seqLen)
	copy(ss.inputIDs.GetData(), inputIDs)
	copy(ss.attentionMask.GetData(), attn)

	if err := ss.session.Run(); err != nil {
		return nil, fmt.Errorf("ner: onnx run: %w", err)
	}

	logits := ss.output.GetData()
	labels, confidences := r.decodeTokenLabels(logits, len(offsets))
	return spansFromTokenLabels(labels, confidences, offsets), nil
}

// Close drains and destroys the session pool.
func (r *NERRecognizer) Close() {
	r.closed.Store(true)
	for i := 0; i < r.poolSize; i++ {
		select {
		case ss := <-r.sessions:
			ss.destroy()
		default:
			return
		}
	}
}

func (ss *nerSession) destroy() {
	if ss.session != nil {
		ss.session.Destroy()
	}
	if ss.inputIDs != nil {
		ss.inputIDs.Destroy()
	}
	if ss.attentionMask != nil {
		ss.attentionMask.Destroy()
	}
	if ss.output != nil {
		ss.output.Destroy()
	}
}

// decodeTokenLabels picks the argmax label per token and its softmax
// probability.
func (r *NERRecognizer) decodeTokenLabels(logits []float32, numTokens int) ([]string, []float64) {
	labels := make([]string, numTokens)
	confidences := make([]float64, numTokens)
	for i := 0; i < numTokens; i++ {
		base := i * r.numLabels
		if base+r.numLabels > len(logits) {
			break
		}
		best := 0
		bestLogit := float32(-math.MaxFloat32)
		var sum float64
		for j := 0; j < r.numLabels; j++ {
			if logits[base+j] > bestLogit {
				best = j
				bestLogit = logits[base+j]
			}
		}
		for j := 0; j < r.numLabels; j++ {
			sum += math.Exp(float64(logits[base+j] - bestLogit))
		}
		if best < len(r.labels) {
			labels[i] = r.labels[best]
			confidences[i] = 1 / sum
		}
	}
	return labels, confidences
}

// spansFromTokenLabels folds BIO-tagged tokens into contiguous spans. A
// span's confidence is the weakest token probability inside it.
func spansFromTokenLabels(labels []string, confidences []float64, offsets []tokenOffset) []entity.Span {
	var spans []entity.Span
	var cur *entity.Span

	flush := func() {
		if cur != nil {
			spans = append(spans, *cur)
			cur = nil
		}
	}

	for i, lbl := range labels {
		if i >= len(offsets) {
			break
		}
		off := offsets[i]
		if off.Start < 0 || off.End <= off.Start {
			continue
		}
		prefix, rawType := splitBIOLabel(lbl)
		entityType := nerTypeMap[rawType]
		if entityType == "" {
			flush()
			continue
		}
		if prefix == "B" || cur == nil || cur.EntityType != entityType {
			flush()
			cur = &entity.Span{
				Start:      off.Start,
				End:        off.End,
				EntityType: entityType,
				Confidence: confidences[i],
				Source:     RecognizerIDNER,
			}
			continue
		}
		// Continuation token: extend and keep the weakest confidence.
		if off.End > cur.End {
			cur.End = off.End
		}
		if confidences[i] < cur.Confidence {
			cur.Confidence = confidences[i]
		}
	}
	flush()
	return spans
}

func splitBIOLabel(lbl string) (string, string) {
	lbl = strings.TrimSpace(lbl)
	if lbl == "" || strings.EqualFold(lbl, "O") {
		return "", ""
	}
	parts := strings.SplitN(lbl, "-", 2)
	if len(parts) == 1 {
		return "", strings.ToUpper(lbl)
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1])
}

func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) > 0 {
		return arr, nil
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	out := make([]string, len(m))
	for k, v := range m {
		idx, convErr := strconv.Atoi(k)
		if convErr != nil {
			return nil, fmt.Errorf("invalid label index %q: %w", k, convErr)
		}
		if idx < 0 || idx >= len(out) {
			return nil, fmt.Errorf("label index %d out of range", idx)
		}
		out[idx] = v
	}
	return out, nil
}

func resolveSharedLibraryPath(modelDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.dylib",
		"onnxruntime.dylib",
		"libonnxruntime.so",
		"onnxruntime.so",
		"onnxruntime.dll",
	}
	dirs := []string{
		modelDir,
		filepath.Join(modelDir, "lib"),
		".",
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}

	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
