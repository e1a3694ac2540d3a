// Package extract implements the extraction job pipeline (spec.md §4.3):
// model-metadata loading, PQL-driven row enumeration, per-handler input
// preparation, bounded-concurrency inference calls, and typed output
// writers that turn predictions back into item_data/tags/extracted_text/
// embeddings rows through the writer actor.
package extract

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	gatewayerrors "github.com/panoptigo/gateway/internal/errors"
)

// npyMagic is the 6-byte magic prefix every NPY file begins with.
var npyMagic = []byte{0x93, 'N', 'U', 'M', 'P', 'Y'}

// NpyArray is a decoded 2-D (or 1-D, reshaped to rows=1) float32 tensor in
// C order. Only the <f4 dtype is supported per spec.md's NPY grammar —
// anything else is rejected rather than silently coerced.
type NpyArray struct {
	Rows, Cols int
	Data       []float32
}

// DecodeNpy parses a numpy v1/v2/v3 file per spec.md §6's grammar: magic
// bytes, version, a u16 (v1) or u32 (v2/v3) header length, then an ASCII
// Python-dict-literal header naming descr/fortran_order/shape. Only
// descr="<f4" and fortran_order=False are accepted; anything else is a
// hand-rolled-grammar rejection rather than attempting general numpy
// dtype support, since spec.md restricts the accepted wire format to
// exactly this case. Grounded on no corpus example (none of the pack
// repos parse NPY) — justified as a stdlib encoding/binary component per
// DESIGN.md.
func DecodeNpy(b []byte) (*NpyArray, error) {
	if len(b) < 10 || !bytes.Equal(b[:6], npyMagic) {
		return nil, gatewayerrors.New(gatewayerrors.ErrCodeNpyDecodeFailed, "not an NPY file: bad magic", nil)
	}

	major := b[6]
	var headerLen int
	var headerStart int
	switch major {
	case 1:
		if len(b) < 10 {
			return nil, gatewayerrors.New(gatewayerrors.ErrCodeNpyDecodeFailed, "truncated v1 header", nil)
		}
		headerLen = int(binary.LittleEndian.Uint16(b[8:10]))
		headerStart = 10
	case 2, 3:
		if len(b) < 12 {
			return nil, gatewayerrors.New(gatewayerrors.ErrCodeNpyDecodeFailed, "truncated v2/v3 header", nil)
		}
		headerLen = int(binary.LittleEndian.Uint32(b[8:12]))
		headerStart = 12
	default:
		return nil, gatewayerrors.New(gatewayerrors.ErrCodeNpyDecodeFailed,
			fmt.Sprintf("unsupported NPY version %d", major), nil)
	}

	headerEnd := headerStart + headerLen
	if headerEnd > len(b) {
		return nil, gatewayerrors.New(gatewayerrors.ErrCodeNpyDecodeFailed, "header length exceeds file size", nil)
	}
	header := string(b[headerStart:headerEnd])

	descr, err := npyDictString(header, "descr")
	if err != nil {
		return nil, err
	}
	if descr != "<f4" {
		return nil, gatewayerrors.New(gatewayerrors.ErrCodeNpyDecodeFailed,
			fmt.Sprintf("unsupported dtype %q, only <f4 is accepted", descr), nil)
	}

	fortran, err := npyDictBool(header, "fortran_order")
	if err != nil {
		return nil, err
	}
	if fortran {
		return nil, gatewayerrors.New(gatewayerrors.ErrCodeNpyDecodeFailed, "fortran_order=True is not supported", nil)
	}

	shape, err := npyDictShape(header, "shape")
	if err != nil {
		return nil, err
	}

	rows, cols := 1, 0
	switch len(shape) {
	case 1:
		cols = shape[0]
	case 2:
		rows, cols = shape[0], shape[1]
	default:
		return nil, gatewayerrors.New(gatewayerrors.ErrCodeNpyDecodeFailed,
			fmt.Sprintf("unsupported shape rank %d", len(shape)), nil)
	}

	dataLen := rows * cols * 4
	if headerEnd+dataLen > len(b) {
		return nil, gatewayerrors.New(gatewayerrors.ErrCodeNpyDecodeFailed, "shape exceeds available data", nil)
	}

	data := make([]float32, rows*cols)
	for i := range data {
		off := headerEnd + i*4
		bits := binary.LittleEndian.Uint32(b[off : off+4])
		data[i] = float32FromBits(bits)
	}

	return &NpyArray{Rows: rows, Cols: cols, Data: data}, nil
}

// EncodeNpy writes a v1 NPY file for a 2-D <f4, C-order, fortran_order=False
// array, the inverse of DecodeNpy, used by tests to ground the "encode then
// decode returns the same bytes" round-trip property.
func EncodeNpy(a *NpyArray) []byte {
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", a.Rows, a.Cols)
	// pad so headerStart(10) + len(header) + 1 (newline) is a multiple of 64
	padTo := 64
	total := 10 + len(header) + 1
	if rem := total % padTo; rem != 0 {
		header += strings.Repeat(" ", padTo-rem)
	}
	header += "\n"

	buf := new(bytes.Buffer)
	buf.Write(npyMagic)
	buf.WriteByte(1) // major
	buf.WriteByte(0) // minor
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(header)))
	buf.Write(lenBuf[:])
	buf.WriteString(header)

	for _, v := range a.Data {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], float32Bits(v))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

func npyDictString(header, key string) (string, error) {
	idx := strings.Index(header, "'"+key+"'")
	if idx < 0 {
		return "", gatewayerrors.New(gatewayerrors.ErrCodeNpyDecodeFailed, "missing key "+key, nil)
	}
	rest := header[idx+len(key)+2:]
	colon := strings.Index(rest, ":")
	if colon < 0 {
		return "", gatewayerrors.New(gatewayerrors.ErrCodeNpyDecodeFailed, "malformed header", nil)
	}
	rest = strings.TrimSpace(rest[colon+1:])
	if !strings.HasPrefix(rest, "'") {
		return "", gatewayerrors.New(gatewayerrors.ErrCodeNpyDecodeFailed, "malformed "+key+" value", nil)
	}
	rest = rest[1:]
	end := strings.Index(rest, "'")
	if end < 0 {
		return "", gatewayerrors.New(gatewayerrors.ErrCodeNpyDecodeFailed, "malformed "+key+" value", nil)
	}
	return rest[:end], nil
}

func npyDictBool(header, key string) (bool, error) {
	idx := strings.Index(header, "'"+key+"'")
	if idx < 0 {
		return false, gatewayerrors.New(gatewayerrors.ErrCodeNpyDecodeFailed, "missing key "+key, nil)
	}
	rest := header[idx:]
	return strings.Contains(strings.SplitN(rest, ",", 2)[0], "True"), nil
}

func npyDictShape(header, key string) ([]int, error) {
	idx := strings.Index(header, "'"+key+"'")
	if idx < 0 {
		return nil, gatewayerrors.New(gatewayerrors.ErrCodeNpyDecodeFailed, "missing key "+key, nil)
	}
	rest := header[idx:]
	open := strings.Index(rest, "(")
	close_ := strings.Index(rest, ")")
	if open < 0 || close_ < 0 || close_ < open {
		return nil, gatewayerrors.New(gatewayerrors.ErrCodeNpyDecodeFailed, "malformed shape", nil)
	}
	inner := rest[open+1 : close_]
	var shape []int
	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, gatewayerrors.New(gatewayerrors.ErrCodeNpyDecodeFailed, "malformed shape entry", nil)
		}
		shape = append(shape, n)
	}
	return shape, nil
}
