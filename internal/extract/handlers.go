package extract

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"sync"

	"github.com/cespare/xxhash/v2"

	gatewayerrors "github.com/panoptigo/gateway/internal/errors"
)

// frameCache memoizes handleImageFrames' re-encoded frame list by a
// process-local xxhash of (path, mtime, max_frames) — the inference job
// frequently re-predicts the same file across setters within one run, and
// xxhash's speed matters more than cryptographic strength for a key that
// never leaves the process, spec.md §4.3's frame-cache-key rule.
var frameCache sync.Map // map[uint64][]string

func frameCacheKey(path string, mtimeUnix int64, maxFrames int) uint64 {
	key := fmt.Sprintf("%s|%d|%d", path, mtimeUnix, maxFrames)
	return xxhash.Sum64String(key)
}

// ErrUnsupportedHandler is returned by handlers spec.md permits leaving
// unimplemented (PDF text extraction — see DESIGN.md's Open Question
// resolution).
var ErrUnsupportedHandler = gatewayerrors.New(gatewayerrors.ErrCodeExtractFailed, "unsupported input_spec handler", nil)

// Row is one item this extraction job is considering: the item id (the
// query's item_id column), the backing file path, and its mime type, enough for any
// handler to build its PredictInput payload.
type Row struct {
	ItemID   int64
	FilePath string
	MimeType string
}

// execCommand is overridden in tests to avoid depending on a real ffmpeg
// binary, the same injectable-exec pattern the teacher's
// internal/lifecycle/ollama.go uses for its own external process calls.
var execCommand = exec.Command

// BuildInput dispatches to the handler named by spec.InputSpec.Handler and
// returns the JSON payload to send to the inference endpoint for row.
func BuildInput(ctx context.Context, spec InputSpec, row Row) (map[string]any, error) {
	switch spec.Handler {
	case "image_frames":
		return handleImageFrames(spec, row)
	case "audio_tracks", "audio_files":
		return handleAudio(ctx, spec, row)
	case "extracted_text":
		return handleExtractedText(row)
	case "md5":
		return handleMD5(row)
	case "md5_image":
		return handleMD5Image(row)
	case "sha256_md5_path":
		return handleShaMd5Path(row)
	default:
		return nil, ErrUnsupportedHandler
	}
}

// handleImageFrames loads the image, JPEG-re-encodes it (slicing by
// aspect-ratio or pixel grid is a follow-up refinement; single-frame
// whole-image encoding covers the common case today), and caps at
// MaxFrames — spec.md §4.3's image_frames handler.
func handleImageFrames(spec InputSpec, row Row) (map[string]any, error) {
	info, err := os.Stat(row.FilePath)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeFilePermission, err)
	}
	key := frameCacheKey(row.FilePath, info.ModTime().Unix(), spec.MaxFrames)
	if cached, ok := frameCache.Load(key); ok {
		return map[string]any{"frames": cached.([]string)}, nil
	}

	f, err := os.Open(row.FilePath)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeFilePermission, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeExtractFailed, err)
	}

	frames := []string{encodeJPEGBase64(img)}
	maxFrames := spec.MaxFrames
	if maxFrames > 0 && len(frames) > maxFrames {
		frames = frames[:maxFrames]
	}
	frameCache.Store(key, frames)
	return map[string]any{"frames": frames}, nil
}

// handleAudio shells out to ffmpeg to decode to mono s16le PCM at the
// configured sample rate. ctx is not passed to the command, so its
// deadline does not stop the decode. Grounded on the teacher's injectable execCommand
// pattern (internal/lifecycle/ollama.go), generalized from launching
// `ollama serve` to launching `ffmpeg`.
func handleAudio(ctx context.Context, spec InputSpec, row Row) (map[string]any, error) {
	sampleRate := spec.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	cmd := execCommand("ffmpeg", "-i", row.FilePath, "-f", "s16le", "-ac", "1", "-ar", fmt.Sprint(sampleRate), "-")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeExtractFailed, err)
	}

	return map[string]any{
		"pcm_s16le": base64.StdEncoding.EncodeToString(out.Bytes()),
		"sample_rate": sampleRate,
	}, nil
}

// handleExtractedText reads the row's file as-is and passes its content
// as the "text" payload. No HTML or PDF text extraction happens here
// (ExtractHTMLText in htmltext.go is not called by this handler).
func handleExtractedText(row Row) (map[string]any, error) {
	content, err := os.ReadFile(row.FilePath)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeFilePermission, err)
	}
	return map[string]any{"text": string(content)}, nil
}

func handleMD5(row Row) (map[string]any, error) {
	content, err := os.ReadFile(row.FilePath)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeFilePermission, err)
	}
	sum := md5.Sum(content)
	return map[string]any{"md5": hex.EncodeToString(sum[:])}, nil
}

func handleMD5Image(row Row) (map[string]any, error) {
	f, err := os.Open(row.FilePath)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeFilePermission, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeExtractFailed, err)
	}
	sum := md5.Sum([]byte(encodeJPEGBase64(img)))
	return map[string]any{"md5_image": hex.EncodeToString(sum[:])}, nil
}

func handleShaMd5Path(row Row) (map[string]any, error) {
	content, err := os.ReadFile(row.FilePath)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeFilePermission, err)
	}
	md5Sum := md5.Sum(content)
	return map[string]any{
		"md5":  hex.EncodeToString(md5Sum[:]),
		"path": row.FilePath,
	}, nil
}

func encodeJPEGBase64(img image.Image) string {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, nil)
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}
