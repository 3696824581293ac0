package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/kass/go-fieldgis/pkg/log"
)

var (
	ErrNotMAT           = errors.New("not a level 5 MAT-file")
	ErrVariableNotFound = errors.New("variable not found")
)

// MAT-file data types
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
)

// MATLAB array classes
const (
	mxDOUBLE = 6
	mxSINGLE = 7
	mxINT8   = 8
	mxUINT64 = 15

	flagComplex = 0x0800
)

const matHeaderLen = 128

// Matrix is a numeric MATLAB variable. Data holds the real part in
// column-major order, as stored in the file.
type Matrix struct {
	Name string
	Dims []int
	Data []float64
}

// Len returns the number of elements implied by Dims
func (m *Matrix) Len() int {
	if len(m.Dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range m.Dims {
		n *= d
	}
	return n
}

// ReadVariable returns the numeric variable called name from the MAT-file
// at path
func ReadVariable(path, name string) (*Matrix, error) {
	vars, err := ReadMAT(path)
	if err != nil {
		return nil, err
	}
	for i := range vars {
		if vars[i].Name == name {
			return &vars[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q in %s", ErrVariableNotFound, name, path)
}

// ReadMAT parses every numeric top-level variable of a level 5 MAT-file.
// Non-numeric variables (cells, structs, chars, sparse) are skipped.
func ReadMAT(path string) ([]Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	vars, err := parseMAT(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vars, nil
}

func parseMAT(data []byte) ([]Matrix, error) {
	if len(data) < matHeaderLen {
		return nil, ErrNotMAT
	}

	var order binary.ByteOrder
	switch string(data[126:128]) {
	case "IM":
		order = binary.LittleEndian
	case "MI":
		order = binary.BigEndian
	default:
		return nil, ErrNotMAT
	}
	if order.Uint16(data[124:126]) != 0x0100 {
		return nil, fmt.Errorf("%w: version %#x", ErrNotMAT, order.Uint16(data[124:126]))
	}

	p := &matParser{order: order}
	var vars []Matrix
	rest := data[matHeaderLen:]
	for len(rest) > 0 {
		typ, payload, next, err := p.element(rest)
		if err != nil {
			return nil, err
		}
		rest = rest[next:]

		if typ == miCOMPRESSED {
			if typ, payload, err = p.inflate(payload); err != nil {
				return nil, err
			}
		}
		if typ != miMATRIX {
			log.Debugw("skipping MAT element", "type", typ)
			continue
		}

		m, ok, err := p.matrix(payload)
		if err != nil {
			return nil, err
		}
		if ok {
			vars = append(vars, *m)
		}
	}
	return vars, nil
}

type matParser struct {
	order binary.ByteOrder
}

// element reads one data element tag from b, returning its type, payload
// and the offset of the following element
func (p *matParser) element(b []byte) (uint32, []byte, int, error) {
	if len(b) < 8 {
		return 0, nil, 0, fmt.Errorf("%w: truncated element tag", ErrNotMAT)
	}

	first := p.order.Uint32(b[0:4])
	if n := first >> 16; n != 0 {
		// small data element: type, size and up to four bytes in one word
		if n > 4 {
			return 0, nil, 0, fmt.Errorf("%w: small element of %d bytes", ErrNotMAT, n)
		}
		return first & 0xffff, b[4 : 4+n], 8, nil
	}

	n := int(p.order.Uint32(b[4:8]))
	if n < 0 || 8+n > len(b) {
		return 0, nil, 0, fmt.Errorf("%w: element of %d bytes overruns file", ErrNotMAT, n)
	}
	next := 8 + n
	if first != miCOMPRESSED {
		next = 8 + pad8(n)
	}
	if next > len(b) {
		next = len(b)
	}
	return first, b[8 : 8+n], next, nil
}

func (p *matParser) inflate(payload []byte) (uint32, []byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to open compressed element: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to inflate element: %w", err)
	}
	typ, inner, _, err := p.element(raw)
	return typ, inner, err
}

// matrix decodes a miMATRIX payload. ok is false for arrays that are not
// numeric.
func (p *matParser) matrix(b []byte) (*Matrix, bool, error) {
	if len(b) == 0 {
		return nil, false, nil
	}

	typ, flags, next, err := p.element(b)
	if err != nil {
		return nil, false, err
	}
	if typ != miUINT32 || len(flags) < 8 {
		return nil, false, fmt.Errorf("%w: bad array flags", ErrNotMAT)
	}
	b = b[next:]
	word := p.order.Uint32(flags[0:4])
	class := word & 0xff

	typ, rawDims, next, err := p.element(b)
	if err != nil {
		return nil, false, err
	}
	if typ != miINT32 {
		return nil, false, fmt.Errorf("%w: bad dimensions", ErrNotMAT)
	}
	b = b[next:]
	dims := make([]int, len(rawDims)/4)
	for i := range dims {
		dims[i] = int(int32(p.order.Uint32(rawDims[4*i:])))
	}

	_, rawName, next, err := p.element(b)
	if err != nil {
		return nil, false, err
	}
	b = b[next:]
	m := &Matrix{Name: string(rawName), Dims: dims}

	if class != mxDOUBLE && class != mxSINGLE && (class < mxINT8 || class > mxUINT64) {
		log.Debugw("skipping non-numeric MAT variable", "name", m.Name, "class", class)
		return nil, false, nil
	}
	if word&flagComplex != 0 {
		log.Warnw("ignoring imaginary part of MAT variable", "name", m.Name)
	}

	typ, re, _, err := p.element(b)
	if err != nil {
		return nil, false, err
	}
	if m.Data, err = p.numbers(typ, re); err != nil {
		return nil, false, fmt.Errorf("variable %s: %w", m.Name, err)
	}
	if len(m.Data) != m.Len() {
		return nil, false, fmt.Errorf("%w: variable %s has %d values for dimensions %v", ErrNotMAT, m.Name, len(m.Data), m.Dims)
	}
	return m, true, nil
}

func (p *matParser) numbers(typ uint32, b []byte) ([]float64, error) {
	var size int
	switch typ {
	case miINT8, miUINT8:
		size = 1
	case miINT16, miUINT16:
		size = 2
	case miINT32, miUINT32, miSINGLE:
		size = 4
	case miDOUBLE, miINT64, miUINT64:
		size = 8
	default:
		return nil, fmt.Errorf("%w: unsupported data type %d", ErrNotMAT, typ)
	}

	out := make([]float64, len(b)/size)
	for i := range out {
		v := b[i*size:]
		switch typ {
		case miINT8:
			out[i] = float64(int8(v[0]))
		case miUINT8:
			out[i] = float64(v[0])
		case miINT16:
			out[i] = float64(int16(p.order.Uint16(v)))
		case miUINT16:
			out[i] = float64(p.order.Uint16(v))
		case miINT32:
			out[i] = float64(int32(p.order.Uint32(v)))
		case miUINT32:
			out[i] = float64(p.order.Uint32(v))
		case miSINGLE:
			out[i] = float64(math.Float32frombits(p.order.Uint32(v)))
		case miDOUBLE:
			out[i] = math.Float64frombits(p.order.Uint64(v))
		case miINT64:
			out[i] = float64(int64(p.order.Uint64(v)))
		case miUINT64:
			out[i] = float64(p.order.Uint64(v))
		}
	}
	return out, nil
}

func pad8(n int) int {
	return (n + 7) &^ 7
}

// WriteMAT writes matrices as double arrays to a little-endian level 5
// MAT-file, each variable zlib-compressed when compress is set
func WriteMAT(path string, vars []Matrix, compress bool) error {
	var buf bytes.Buffer

	header := fmt.Sprintf("MATLAB 5.0 MAT-file, Platform: GO, Created on: %s", time.Now().Format(time.ANSIC))
	text := bytes.Repeat([]byte(" "), 116)
	copy(text, header)
	buf.Write(text)
	buf.Write(make([]byte, 8)) // subsystem data offset
	binary.Write(&buf, binary.LittleEndian, uint16(0x0100))
	buf.WriteString("IM")

	for _, m := range vars {
		if len(m.Data) != m.Len() {
			return fmt.Errorf("variable %s has %d values for dimensions %v", m.Name, len(m.Data), m.Dims)
		}
		el := matrixElement(m)
		if !compress {
			buf.Write(el)
			continue
		}

		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		if _, err := zw.Write(el); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		writeTag(&buf, miCOMPRESSED, z.Len())
		buf.Write(z.Bytes())
	}

	return os.WriteFile(path, buf.Bytes(), 0644)
}

func matrixElement(m Matrix) []byte {
	var body bytes.Buffer

	writeTag(&body, miUINT32, 8)
	binary.Write(&body, binary.LittleEndian, []uint32{mxDOUBLE, 0})

	writeTag(&body, miINT32, 4*len(m.Dims))
	for _, d := range m.Dims {
		binary.Write(&body, binary.LittleEndian, int32(d))
	}
	padTo8(&body, 4*len(m.Dims))

	writeTag(&body, miINT8, len(m.Name))
	body.WriteString(m.Name)
	padTo8(&body, len(m.Name))

	writeTag(&body, miDOUBLE, 8*len(m.Data))
	binary.Write(&body, binary.LittleEndian, m.Data)

	var el bytes.Buffer
	writeTag(&el, miMATRIX, body.Len())
	el.Write(body.Bytes())
	return el.Bytes()
}

func writeTag(buf *bytes.Buffer, typ, n int) {
	binary.Write(buf, binary.LittleEndian, []uint32{uint32(typ), uint32(n)})
}

func padTo8(buf *bytes.Buffer, n int) {
	buf.Write(make([]byte, pad8(n)-n))
}
