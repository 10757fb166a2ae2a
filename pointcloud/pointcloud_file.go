package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

// NewFromFile returns a pointcloud read in from the given .pcd file. Coordinates are in metres.
func NewFromFile(fn string) (PointCloud, error) {
	if ext := filepath.Ext(fn); !strings.EqualFold(ext, ".pcd") {
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	cloud, err := ReadPCD(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", fn)
	}
	return cloud, nil
}

// ToPCD writes out a point cloud to a PCD file of the given type.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	var dataType string
	switch outputType {
	case PCDAscii:
		dataType = "ascii"
	case PCDBinary:
		dataType = "binary"
	case PCDCompressed:
		return errors.New("compressed PCD not yet implemented")
	default:
		return errors.Errorf("unknown pcd type %d", outputType)
	}
	if _, err := fmt.Fprintf(out, "VERSION .7\n"+
		"FIELDS x y z\n"+
		"SIZE 4 4 4\n"+
		"TYPE F F F\n"+
		"COUNT 1 1 1\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n",
		cloud.Size(), cloud.Size(), dataType); err != nil {
		return err
	}

	var err error
	buf := make([]byte, 12)
	cloud.Iterate(0, 0, func(_ int, pos r3.Vector) bool {
		switch outputType {
		case PCDBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(pos.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(pos.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(pos.Z)))
			_, err = out.Write(buf)
		default:
			_, err = fmt.Fprintf(out, "%f %f %f\n", pos.X, pos.Y, pos.Z)
		}
		return err == nil
	})
	return err
}

type pcdHeader struct {
	fields []string
	size   []int
	types  []string
	count  []int
	width  uint64
	height uint64
	points uint64
	data   PCDType
	xyz    [3]int // field index of x, y and z
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		header.fields = tokens
		header.xyz = [3]int{-1, -1, -1}
		for i, tok := range tokens {
			switch tok {
			case "x":
				header.xyz[0] = i
			case "y":
				header.xyz[1] = i
			case "z":
				header.xyz[2] = i
			}
		}
		if header.xyz[0] < 0 || header.xyz[1] < 0 || header.xyz[2] < 0 {
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in SIZE line")
		}
		header.size = make([]int, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.Atoi(token)
			if err != nil {
				return errors.Errorf("invalid SIZE field %s", token)
			}
		}
	case "TYPE":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in TYPE line")
		}
		header.types = tokens
		for _, i := range header.xyz {
			if header.types[i] != "F" || (header.size[i] != 4 && header.size[i] != 8) {
				return errors.Errorf("coordinate field %s must be a 4 or 8 byte float", header.fields[i])
			}
		}
	case "COUNT":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in COUNT line")
		}
		header.count = make([]int, len(tokens))
		for i, token := range tokens {
			header.count[i], err = strconv.Atoi(token)
			if err != nil {
				return errors.Errorf("invalid COUNT field %s: %s", token, err)
			}
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid WIDTH field %s: %s", value, err)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid HEIGHT field %s: %s", value, err)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		header.points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid POINTS field %s: %s", value, err)
		}
		if header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}

	return nil
}

// ReadPCD reads a pcd file. Only the x, y and z fields are kept; non-finite points are skipped.
func ReadPCD(inRaw io.Reader) (PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	case PCDBinary:
		return readPCDBinary(in, header)
	default:
		return nil, errors.New("compressed pcd not yet supported")
	}
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	pc := NewWithPrealloc(int(header.points))
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, err
		}
		tokens := strings.Fields(line)
		if len(tokens) < len(header.fields) {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		var coords [3]float64
		for axis, fieldIdx := range header.xyz {
			coords[axis], err = strconv.ParseFloat(tokens[fieldIdx], 64)
			if err != nil {
				return nil, errors.Errorf("invalid point %d field %s: %s", i, tokens[fieldIdx], err)
			}
		}
		//nolint:errcheck
		pc.Set(r3.Vector{X: coords[0], Y: coords[1], Z: coords[2]})
	}
	return pc, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	offsets := make([]int, len(header.fields))
	stride := 0
	for i := range header.fields {
		offsets[i] = stride
		stride += header.size[i] * header.count[i]
	}
	pc := NewWithPrealloc(int(header.points))
	buf := make([]byte, stride)
	for i := 0; i < int(header.points); i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		var coords [3]float64
		for axis, fieldIdx := range header.xyz {
			raw := buf[offsets[fieldIdx]:]
			if header.size[fieldIdx] == 8 {
				coords[axis] = math.Float64frombits(binary.LittleEndian.Uint64(raw))
			} else {
				coords[axis] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
			}
		}
		//nolint:errcheck
		pc.Set(r3.Vector{X: coords[0], Y: coords[1], Z: coords[2]})
	}
	return pc, nil
}
