package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var ErrUnsupportedTIFF = errors.New("unsupported TIFF")

// baseline tags
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagTileWidth       = 322
	tagSampleFormat    = 339
)

// GeoTIFF and GDAL tags copied from the reference raster
const (
	TagModelPixelScale     = 33550
	TagModelTiepoint       = 33922
	TagModelTransformation = 34264
	TagGeoKeyDirectory     = 34735
	TagGeoDoubleParams     = 34736
	TagGeoASCIIParams      = 34737
	TagGDALMetadata        = 42112
	TagGDALNoData          = 42113
)

var geoTags = map[uint16]bool{
	TagModelPixelScale:     true,
	TagModelTiepoint:       true,
	TagModelTransformation: true,
	TagGeoKeyDirectory:     true,
	TagGeoDoubleParams:     true,
	TagGeoASCIIParams:      true,
	TagGDALMetadata:        true,
	TagGDALNoData:          true,
}

// TIFF field types
const (
	tByte      = 1
	tASCII     = 2
	tShort     = 3
	tLong      = 4
	tRational  = 5
	tSByte     = 6
	tUndefined = 7
	tSShort    = 8
	tSLong     = 9
	tSRational = 10
	tFloat     = 11
	tDouble    = 12
)

var typeSize = map[uint16]int{
	tByte: 1, tASCII: 1, tShort: 2, tLong: 4, tRational: 8, tSByte: 1,
	tUndefined: 1, tSShort: 2, tSLong: 4, tSRational: 8, tFloat: 4, tDouble: 8,
}

// Sample formats
const (
	SampleUint  = 1
	SampleInt   = 2
	SampleFloat = 3
)

// GeoTag is a georeferencing tag. Exactly one of the value fields is set,
// depending on the tag.
type GeoTag struct {
	ID      uint16
	Shorts  []uint16
	Doubles []float64
	ASCII   string
}

// Profile describes a raster: its size, band count, sample type and
// georeferencing
type Profile struct {
	Width         int
	Height        int
	Count         int
	BitsPerSample int
	SampleFormat  int
	GeoTags       []GeoTag

	compression  int
	planar       int
	tiled        bool
	stripOffsets []uint64
	stripCounts  []uint64
	order        binary.ByteOrder
}

// DType names the sample type the way numpy does, "" when unsupported
func (p *Profile) DType() string {
	switch {
	case p.SampleFormat == SampleFloat && p.BitsPerSample == 32:
		return "float32"
	case p.SampleFormat == SampleFloat && p.BitsPerSample == 64:
		return "float64"
	case p.SampleFormat == SampleInt && p.BitsPerSample == 8:
		return "int8"
	case p.SampleFormat == SampleInt && p.BitsPerSample == 16:
		return "int16"
	case p.SampleFormat == SampleInt && p.BitsPerSample == 32:
		return "int32"
	case p.SampleFormat == SampleUint && p.BitsPerSample == 8:
		return "uint8"
	case p.SampleFormat == SampleUint && p.BitsPerSample == 16:
		return "uint16"
	case p.SampleFormat == SampleUint && p.BitsPerSample == 32:
		return "uint32"
	}
	return ""
}

// GeoTag returns the tag with the given id
func (p *Profile) GeoTag(id uint16) (GeoTag, bool) {
	for _, t := range p.GeoTags {
		if t.ID == id {
			return t, true
		}
	}
	return GeoTag{}, false
}

// ReadProfile reads the first image file directory of a classic TIFF
func ReadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := parseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte
}

func parseProfile(data []byte) (*Profile, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: short header", ErrUnsupportedTIFF)
	}

	var order binary.ByteOrder
	switch string(data[0:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad byte order mark", ErrUnsupportedTIFF)
	}
	switch magic := order.Uint16(data[2:4]); magic {
	case 42:
	case 43:
		return nil, fmt.Errorf("%w: BigTIFF", ErrUnsupportedTIFF)
	default:
		return nil, fmt.Errorf("%w: magic %d", ErrUnsupportedTIFF, magic)
	}

	entries, err := readIFD(data, order, int(order.Uint32(data[4:8])))
	if err != nil {
		return nil, err
	}

	p := &Profile{Count: 1, BitsPerSample: 1, SampleFormat: SampleUint, compression: 1, planar: 1, order: order}
	for _, e := range entries {
		switch e.tag {
		case tagImageWidth:
			p.Width = int(first(e.uints(order)))
		case tagImageLength:
			p.Height = int(first(e.uints(order)))
		case tagBitsPerSample:
			p.BitsPerSample = int(first(e.uints(order)))
		case tagCompression:
			p.compression = int(first(e.uints(order)))
		case tagSamplesPerPixel:
			p.Count = int(first(e.uints(order)))
		case tagPlanarConfig:
			p.planar = int(first(e.uints(order)))
		case tagSampleFormat:
			p.SampleFormat = int(first(e.uints(order)))
		case tagTileWidth:
			p.tiled = true
		case tagStripOffsets:
			p.stripOffsets = e.uints(order)
		case tagStripByteCounts:
			p.stripCounts = e.uints(order)
		default:
			if geoTags[e.tag] {
				p.GeoTags = append(p.GeoTags, e.geoTag(order))
			}
		}
	}

	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("%w: missing image size", ErrUnsupportedTIFF)
	}
	return p, nil
}

func readIFD(data []byte, order binary.ByteOrder, offset int) ([]ifdEntry, error) {
	if offset < 8 || offset+2 > len(data) {
		return nil, fmt.Errorf("%w: IFD offset %d out of range", ErrUnsupportedTIFF, offset)
	}
	n := int(order.Uint16(data[offset:]))
	if offset+2+12*n > len(data) {
		return nil, fmt.Errorf("%w: truncated IFD", ErrUnsupportedTIFF)
	}

	entries := make([]ifdEntry, 0, n)
	for i := 0; i < n; i++ {
		raw := data[offset+2+12*i:]
		e := ifdEntry{
			tag:   order.Uint16(raw[0:2]),
			typ:   order.Uint16(raw[2:4]),
			count: order.Uint32(raw[4:8]),
		}
		size, ok := typeSize[e.typ]
		if !ok {
			continue
		}
		length := size * int(e.count)
		if length <= 4 {
			e.value = raw[8 : 8+length]
		} else {
			at := int(order.Uint32(raw[8:12]))
			if at < 0 || at+length > len(data) {
				return nil, fmt.Errorf("%w: tag %d overruns file", ErrUnsupportedTIFF, e.tag)
			}
			e.value = data[at : at+length]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (e ifdEntry) uints(order binary.ByteOrder) []uint64 {
	out := make([]uint64, 0, e.count)
	for i := 0; i < int(e.count); i++ {
		switch e.typ {
		case tByte, tUndefined:
			out = append(out, uint64(e.value[i]))
		case tShort:
			out = append(out, uint64(order.Uint16(e.value[2*i:])))
		case tLong:
			out = append(out, uint64(order.Uint32(e.value[4*i:])))
		}
	}
	return out
}

func (e ifdEntry) floats(order binary.ByteOrder) []float64 {
	out := make([]float64, 0, e.count)
	for i := 0; i < int(e.count); i++ {
		switch e.typ {
		case tDouble:
			out = append(out, math.Float64frombits(order.Uint64(e.value[8*i:])))
		case tFloat:
			out = append(out, float64(math.Float32frombits(order.Uint32(e.value[4*i:]))))
		}
	}
	return out
}

func (e ifdEntry) geoTag(order binary.ByteOrder) GeoTag {
	t := GeoTag{ID: e.tag}
	switch e.typ {
	case tASCII:
		t.ASCII = string(bytes.TrimRight(e.value, "\x00"))
	case tShort:
		for _, v := range e.uints(order) {
			t.Shorts = append(t.Shorts, uint16(v))
		}
	case tDouble, tFloat:
		t.Doubles = e.floats(order)
	}
	return t
}

func first(vs []uint64) uint64 {
	if len(vs) == 0 {
		return 0
	}
	return vs[0]
}

// ReadBand reads the first band of an uncompressed, stripped TIFF
func ReadBand(path string) (*mat.Dense, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := parseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	switch {
	case p.compression != 1:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupportedTIFF, p.compression)
	case p.tiled:
		return nil, fmt.Errorf("%w: tiled layout", ErrUnsupportedTIFF)
	case p.DType() == "":
		return nil, fmt.Errorf("%w: %d-bit samples of format %d", ErrUnsupportedTIFF, p.BitsPerSample, p.SampleFormat)
	case len(p.stripOffsets) != len(p.stripCounts):
		return nil, fmt.Errorf("%w: strip tables differ in length", ErrUnsupportedTIFF)
	}

	var pixels []byte
	for i, off := range p.stripOffsets {
		end := off + p.stripCounts[i]
		if end > uint64(len(data)) {
			return nil, fmt.Errorf("%w: strip %d overruns file", ErrUnsupportedTIFF, i)
		}
		pixels = append(pixels, data[off:end]...)
	}

	size := p.BitsPerSample / 8
	stride := size
	if p.planar == 1 {
		stride *= p.Count
	}
	if len(pixels) < p.Width*p.Height*stride {
		return nil, fmt.Errorf("%w: %d bytes of pixel data for %dx%d", ErrUnsupportedTIFF, len(pixels), p.Width, p.Height)
	}

	band := mat.NewDense(p.Height, p.Width, nil)
	for r := 0; r < p.Height; r++ {
		for c := 0; c < p.Width; c++ {
			band.Set(r, c, decodeSample(p, pixels[(r*p.Width+c)*stride:]))
		}
	}
	return band, nil
}

func decodeSample(p *Profile, b []byte) float64 {
	order := p.order
	switch p.DType() {
	case "uint8":
		return float64(b[0])
	case "int8":
		return float64(int8(b[0]))
	case "uint16":
		return float64(order.Uint16(b))
	case "int16":
		return float64(int16(order.Uint16(b)))
	case "uint32":
		return float64(order.Uint32(b))
	case "int32":
		return float64(int32(order.Uint32(b)))
	case "float32":
		return float64(math.Float32frombits(order.Uint32(b)))
	case "float64":
		return math.Float64frombits(order.Uint64(b))
	}
	return math.NaN()
}

// WriteGeoTIFF writes band as a single-band, uncompressed, little-endian
// GeoTIFF with the size, sample type and geo tags of profile. Values are
// truncated and clamped to the sample type.
func WriteGeoTIFF(path string, profile *Profile, band *mat.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encodeGeoTIFF(f, binary.LittleEndian, profile, band); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func encodeGeoTIFF(w io.Writer, order binary.ByteOrder, profile *Profile, band *mat.Dense) error {
	rows, cols := band.Dims()
	if rows != profile.Height || cols != profile.Width {
		return fmt.Errorf("%w: band is %dx%d, profile is %dx%d", ErrShapeMismatch, rows, cols, profile.Height, profile.Width)
	}
	dtype := profile.DType()
	if dtype == "" {
		return fmt.Errorf("%w: %d-bit samples of format %d", ErrUnsupportedTIFF, profile.BitsPerSample, profile.SampleFormat)
	}

	var pixels bytes.Buffer
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			encodeSample(&pixels, order, dtype, band.At(r, c))
		}
	}

	const header = 8
	stripOffset := uint32(header)
	stripBytes := uint32(pixels.Len())

	entries := []ifdEntry{
		longEntry(order, tagImageWidth, uint32(cols)),
		longEntry(order, tagImageLength, uint32(rows)),
		shortEntry(order, tagBitsPerSample, uint16(profile.BitsPerSample)),
		shortEntry(order, tagCompression, 1),
		shortEntry(order, tagPhotometric, 1),
		longEntry(order, tagStripOffsets, stripOffset),
		shortEntry(order, tagSamplesPerPixel, 1),
		longEntry(order, tagRowsPerStrip, uint32(rows)),
		longEntry(order, tagStripByteCounts, stripBytes),
		shortEntry(order, tagPlanarConfig, 1),
		shortEntry(order, tagSampleFormat, uint16(profile.SampleFormat)),
	}
	for _, t := range profile.GeoTags {
		entries = append(entries, geoEntry(order, t))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// pixel data, then out-of-line tag values, then the IFD
	var extra bytes.Buffer
	extraStart := header + pixels.Len()
	extraStart += extraStart % 2
	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		if len(e.value) <= 4 {
			continue
		}
		offsets[i] = uint32(extraStart + extra.Len())
		extra.Write(e.value)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}
	ifdOffset := extraStart + extra.Len()

	var out bytes.Buffer
	if order == binary.LittleEndian {
		out.WriteString("II")
	} else {
		out.WriteString("MM")
	}
	binary.Write(&out, order, uint16(42))
	binary.Write(&out, order, uint32(ifdOffset))
	out.Write(pixels.Bytes())
	if out.Len() < extraStart {
		out.WriteByte(0)
	}
	out.Write(extra.Bytes())

	binary.Write(&out, order, uint16(len(entries)))
	for i, e := range entries {
		binary.Write(&out, order, e.tag)
		binary.Write(&out, order, e.typ)
		binary.Write(&out, order, e.count)
		var field [4]byte
		if len(e.value) <= 4 {
			copy(field[:], e.value)
		} else {
			order.PutUint32(field[:], offsets[i])
		}
		out.Write(field[:])
	}
	binary.Write(&out, order, uint32(0))

	_, err := w.Write(out.Bytes())
	return err
}

func longEntry(order binary.ByteOrder, tag uint16, v uint32) ifdEntry {
	b := make([]byte, 4)
	order.PutUint32(b, v)
	return ifdEntry{tag: tag, typ: tLong, count: 1, value: b}
}

func shortEntry(order binary.ByteOrder, tag uint16, v uint16) ifdEntry {
	b := make([]byte, 2)
	order.PutUint16(b, v)
	return ifdEntry{tag: tag, typ: tShort, count: 1, value: b}
}

func geoEntry(order binary.ByteOrder, t GeoTag) ifdEntry {
	var buf bytes.Buffer
	switch {
	case t.Shorts != nil:
		binary.Write(&buf, order, t.Shorts)
		return ifdEntry{tag: t.ID, typ: tShort, count: uint32(len(t.Shorts)), value: buf.Bytes()}
	case t.Doubles != nil:
		binary.Write(&buf, order, t.Doubles)
		return ifdEntry{tag: t.ID, typ: tDouble, count: uint32(len(t.Doubles)), value: buf.Bytes()}
	}
	buf.WriteString(t.ASCII)
	buf.WriteByte(0)
	return ifdEntry{tag: t.ID, typ: tASCII, count: uint32(buf.Len()), value: buf.Bytes()}
}

func encodeSample(buf *bytes.Buffer, order binary.ByteOrder, dtype string, v float64) {
	switch dtype {
	case "float32":
		binary.Write(buf, order, float32(v))
	case "float64":
		binary.Write(buf, order, v)
	case "uint8":
		buf.WriteByte(uint8(clamp(v, 0, math.MaxUint8)))
	case "int8":
		buf.WriteByte(byte(int8(clamp(v, math.MinInt8, math.MaxInt8))))
	case "uint16":
		binary.Write(buf, order, uint16(clamp(v, 0, math.MaxUint16)))
	case "int16":
		binary.Write(buf, order, int16(clamp(v, math.MinInt16, math.MaxInt16)))
	case "uint32":
		binary.Write(buf, order, uint32(clamp(v, 0, math.MaxUint32)))
	case "int32":
		binary.Write(buf, order, int32(clamp(v, math.MinInt32, math.MaxInt32)))
	}
}

// clamp truncates v toward zero and limits it to [lo, hi]. NaN becomes 0.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Trunc(v)
	return math.Max(lo, math.Min(hi, v))
}
