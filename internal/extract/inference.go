package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	gatewayerrors "github.com/panoptigo/gateway/internal/errors"
)

// InferenceClient talks to an external inference endpoint's metadata/load/
// unload/predict contract (spec.md §6), generalized from the teacher's
// internal/lifecycle/ollama.go raw net/http calls to a local model server
// into a real HTTP client library, since spec.md's inference endpoint is a
// separate network hop rather than a CLI-spawned local process.
type InferenceClient struct {
	client  *resty.Client
	baseURL string
}

// DefaultTimeout bounds a single inference HTTP call. Extraction requests
// carry no end-to-end job deadline by default (spec.md §4 "Cancellation &
// timeouts"), but each individual predict call still needs a bound so one
// wedged endpoint can't hang a worker forever.
const DefaultTimeout = 60 * time.Second

// NewInferenceClient builds a client against baseURL.
func NewInferenceClient(baseURL string) *InferenceClient {
	return &InferenceClient{
		client:  resty.New().SetTimeout(DefaultTimeout),
		baseURL: baseURL,
	}
}

// PredictInput is one item's prepared payload for a predict call.
type PredictInput struct {
	ItemDataID int64
	Payload    map[string]any
}

// PredictOutput is one returned prediction: either a JSON value or an
// opaque binary buffer (NPY bytes for clip/text-embedding setters), per
// spec.md §6's predict() contract.
type PredictOutput struct {
	ItemDataID int64
	JSON       map[string]any
	Binary     []byte
}

type metadataResponse struct {
	GroupMetadata map[string]any `json:"group_metadata"`
	Metadata      map[string]any `json:"metadata"`
}

// FetchMetadata loads the primary inference endpoint's group_metadata
// merged with the specific inference block, per spec.md §4.3 step 1.
func (c *InferenceClient) FetchMetadata(ctx context.Context, setter string) (ModelMetadata, error) {
	var resp metadataResponse
	r, err := c.client.R().
		SetContext(ctx).
		SetResult(&resp).
		Get(fmt.Sprintf("%s/metadata/%s", c.baseURL, setter))
	if err != nil {
		return ModelMetadata{}, gatewayerrors.Wrap(gatewayerrors.ErrCodeInferenceFailed, err)
	}
	if r.IsError() {
		return ModelMetadata{}, gatewayerrors.New(gatewayerrors.ErrCodeInferenceFailed,
			fmt.Sprintf("metadata request failed: %s", r.Status()), nil)
	}
	return decodeModelMetadata(setter, resp), nil
}

func decodeModelMetadata(setter string, resp metadataResponse) ModelMetadata {
	base := metadataToModel(setter, resp.GroupMetadata)
	override := metadataToModel(setter, resp.Metadata)
	return mergeMetadata(base, override)
}

func metadataToModel(setter string, m map[string]any) ModelMetadata {
	out := ModelMetadata{Setter: setter}
	if m == nil {
		return out
	}
	if v, ok := m["lru_size"].(float64); ok {
		out.LRUSize = int(v)
	}
	if v, ok := m["ttl_seconds"].(float64); ok {
		out.TTLSeconds = int(v)
	}
	if v, ok := m["cache_key"].(string); ok {
		out.CacheKey = v
	}
	if mimes, ok := m["mime_types"].([]any); ok {
		for _, mm := range mimes {
			if s, ok := mm.(string); ok {
				out.MimeTypes = append(out.MimeTypes, s)
			}
		}
	}
	if spec, ok := m["input_spec"].(map[string]any); ok {
		out.InputSpec = inputSpecFromMap(spec)
	}
	return out
}

func inputSpecFromMap(m map[string]any) InputSpec {
	var spec InputSpec
	if v, ok := m["handler"].(string); ok {
		spec.Handler = v
	}
	if v, ok := m["max_frames"].(float64); ok {
		spec.MaxFrames = int(v)
	}
	if v, ok := m["slice_by_aspect"].(bool); ok {
		spec.SliceByAspect = v
	}
	if v, ok := m["sample_rate"].(float64); ok {
		spec.SampleRate = int(v)
	}
	if v, ok := m["threshold"].(float64); ok {
		spec.Threshold = v
	}
	return spec
}

// Load instructs the endpoint to load setter/cacheKey into its model cache.
func (c *InferenceClient) Load(ctx context.Context, setter, cacheKey string, lruSize, ttlSeconds int) error {
	r, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"cache_key": cacheKey, "lru_size": lruSize, "ttl_seconds": ttlSeconds}).
		Post(fmt.Sprintf("%s/load/%s", c.baseURL, setter))
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.ErrCodeInferenceFailed, err)
	}
	if r.IsError() {
		return gatewayerrors.New(gatewayerrors.ErrCodeInferenceFailed, fmt.Sprintf("load failed: %s", r.Status()), nil)
	}
	return nil
}

// Unload instructs the endpoint to evict setter/cacheKey from its cache.
func (c *InferenceClient) Unload(ctx context.Context, setter, cacheKey string) error {
	r, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"cache_key": cacheKey}).
		Post(fmt.Sprintf("%s/unload/%s", c.baseURL, setter))
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.ErrCodeInferenceFailed, err)
	}
	if r.IsError() {
		return gatewayerrors.New(gatewayerrors.ErrCodeInferenceFailed, fmt.Sprintf("unload failed: %s", r.Status()), nil)
	}
	return nil
}

type predictRequest struct {
	CacheKey   string           `json:"cache_key"`
	LRUSize    int              `json:"lru_size"`
	TTLSeconds int              `json:"ttl_seconds"`
	Inputs     []map[string]any `json:"inputs"`
}

type predictResponse struct {
	// Results holds one raw JSON entry per input, either a JSON object or
	// a base64 JSON string (binary outputs for clip/text-embedding
	// setters); decodePredictResult does the base64 decoding.
	Results []json.RawMessage `json:"results"`
}

// Predict sends a batch of inputs and returns one PredictOutput per input,
// in order. Binary (NPY) results are recognized by the endpoint tagging
// them as base64 strings instead of JSON objects.
func (c *InferenceClient) Predict(ctx context.Context, setter, cacheKey string, lruSize, ttlSeconds int, inputs []PredictInput) ([]PredictOutput, error) {
	req := predictRequest{CacheKey: cacheKey, LRUSize: lruSize, TTLSeconds: ttlSeconds}
	for _, in := range inputs {
		req.Inputs = append(req.Inputs, in.Payload)
	}

	var resp predictResponse
	r, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(fmt.Sprintf("%s/predict/%s", c.baseURL, setter))
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeInferenceFailed, err)
	}
	if r.IsError() {
		return nil, gatewayerrors.New(gatewayerrors.ErrCodeInferenceFailed, fmt.Sprintf("predict failed: %s", r.Status()), nil)
	}
	if len(resp.Results) != len(inputs) {
		return nil, gatewayerrors.New(gatewayerrors.ErrCodeInferenceFailed, "predict result count mismatch", nil)
	}

	outputs := make([]PredictOutput, len(inputs))
	for i, raw := range resp.Results {
		outputs[i] = decodePredictResult(inputs[i].ItemDataID, raw)
	}
	return outputs, nil
}

// decodePredictResult distinguishes a JSON-object prediction from a
// base64-encoded binary (NPY) one: the endpoint wraps binary outputs as a
// bare JSON string, everything else as a JSON object.
func decodePredictResult(itemDataID int64, raw json.RawMessage) PredictOutput {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if decoded, err := base64.StdEncoding.DecodeString(asString); err == nil {
			return PredictOutput{ItemDataID: itemDataID, Binary: decoded}
		}
	}
	var asObject map[string]any
	_ = json.Unmarshal(raw, &asObject)
	return PredictOutput{ItemDataID: itemDataID, JSON: asObject}
}
