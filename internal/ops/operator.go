// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package ops

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mlnoga/asi/internal/continuum"
	"github.com/mlnoga/asi/internal/fits"
	"github.com/mlnoga/asi/internal/stats"
	"github.com/pbnjay/memory"
)

// An execution context for operators
type Context struct {
	Log           io.Writer
	MemoryMB      int               // memory.TotalMemory()/1024/1024
	BlockMemoryMB int               // MemoryMB*5/10, budget for block buffers
	MaxThreads    int               `json:"maxThreads"`
	Monitor       continuum.Monitor // cancellation, may be nil
	Tally         *continuum.Tally  // pixel counts across all cubes, may be nil
	AllowAbsPaths bool              // permit absolute and parent paths, for the command line
}

func NewContext(log io.Writer) *Context {
	memoryMB := int(memory.TotalMemory() / 1024 / 1024)
	return &Context{
		Log:           log,
		MemoryMB:      memoryMB,
		BlockMemoryMB: memoryMB * 5 / 10,
		MaxThreads:    runtime.GOMAXPROCS(0),
	}
}

// A promise for a FITS cube. Returns a materialized cube, or an error
type Promise func() (f *fits.Cube, err error)

// Materializes all promises with given concurrency limit
func MaterializeAll(ins []Promise, maxThreads int, forget bool) (outs []*fits.Cube, err error) {
	if len(ins) == 0 {
		return nil, nil
	}
	if maxThreads < 1 {
		maxThreads = 1
	}
	if !forget {
		outs = make([]*fits.Cube, len(ins))
	}
	limiter := make(chan bool, maxThreads)
	errs := make(chan error, len(ins))
	for i, in := range ins {
		limiter <- true
		go func(i int, theIn Promise) {
			defer func() { <-limiter }()
			f, err := theIn() // materialize the promise
			if err != nil {
				errs <- err
				return
			}
			if !forget {
				outs[i] = f
			}
			errs <- nil
		}(i, in)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	for i := 0; i < len(ins); i++ { // collect errors
		if e := <-errs; e != nil {
			if err == nil {
				err = e
			} else {
				err = fmt.Errorf("%w; %w", err, e)
			}
		}
	}
	return RemoveNils(outs), err
}

// Remove nils from an array of fits.Cubes, editing the underlying array in place
func RemoveNils(cubes []*fits.Cube) []*fits.Cube {
	o := 0
	for i := 0; i < len(cubes); i++ {
		if cubes[i] != nil {
			cubes[o] = cubes[i]
			o++
		}
	}
	for i := o; i < len(cubes); i++ {
		cubes[i] = nil
	}
	return cubes[:o]
}

// A general cube processing operator: takes n promises as inputs,
// and produces m promises as output or an error
type Operator interface {
	GetType() string
	IsActive() bool
	MakePromises(ins []Promise, c *Context) (outs []Promise, err error)
}

// Base type for operators, including type information for JSON serializing/deserializing
type OpBase struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

func (op *OpBase) GetType() string { return op.Type }
func (op *OpBase) IsActive() bool  { return op.Active }

// Factory method for subclasses of unary operators. For JSON serializing/deserializing
type OperatorFactory func() Operator

// Mapping from unary operator type strings to factory method for the type
var operatorFactories = map[string]OperatorFactory{}

// Returns the operator factory for a given type string
func GetOperatorFactory(t string) OperatorFactory {
	return operatorFactories[t]
}

// Registers a given type string for a given type of UnaryOperator, identified via an exemplar generator
func SetOperatorFactory(f OperatorFactory) {
	op := f()
	t := op.GetType()
	if GetOperatorFactory(t) != nil {
		panic(fmt.Sprintf("error: re-registering operator key %s\n", t))
	}
	operatorFactories[t] = f
}

// Decodes a single polymorphic operator from JSON, based on its type field
func UnmarshalOperator(raw []byte) (Operator, error) {
	var base OpBase
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, err
	}
	factory := GetOperatorFactory(base.Type)
	if factory == nil {
		return nil, fmt.Errorf("Unknown operator type '%s' in raw JSON message '%s'", base.Type, string(raw))
	}
	op := factory()
	if err := json.Unmarshal(raw, op); err != nil {
		return nil, err
	}
	return op, nil
}

// A unary cube processing operator: given n promises as inputs,
// applies itself to each of them individually and returns n output promises or an error
type OperatorUnary interface {
	Operator
	Apply(f *fits.Cube, c *Context) (fOut *fits.Cube, err error)
}

// Abstract base type for unary operators. Uses golang workaround for abstract classes
// from https://golangbyexample.com/go-abstract-class/
type OpUnaryBase struct {
	OpBase
	Apply func(f *fits.Cube, c *Context) (fOut *fits.Cube, err error) `json:"-"`
}

func (op *OpUnaryBase) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) == 0 {
		return nil, fmt.Errorf("%s operator with %d inputs", op.Type, len(ins))
	}
	outs = make([]Promise, len(ins))
	for i, in := range ins {
		outs[i] = op.MakePromise(in, c)
	}
	return outs, nil
}

func (op *OpUnaryBase) MakePromise(in Promise, c *Context) (out Promise) {
	return func() (f *fits.Cube, err error) {
		if f, err = in(); err != nil { // materialize input promise
			return nil, err
		}
		if !op.Active {
			return f, nil
		}
		return op.Apply(f, c) // apply unary operator
	}
}

// Load a single FITS cube from a single filename. Takes zero inputs, produces one output
type OpLoad struct {
	OpBase
	ID       int    `json:"id"`
	FileName string `json:"fileName"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadDefault() }) } // register the operator for JSON decoding

func NewOpLoadDefault() *OpLoad { return NewOpLoad(0, "") }

func NewOpLoad(id int, fileName string) *OpLoad {
	return &OpLoad{
		OpBase:   OpBase{Type: "load", Active: true},
		ID:       id,
		FileName: fileName,
	}
}

// Load cube from a file. Ignores any inputs provided
func (op *OpLoad) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) > 0 {
		return nil, fmt.Errorf("%s operator with non-zero input", op.Type)
	}
	if !c.AllowAbsPaths && !isPathAllowed(op.FileName) {
		return nil, errors.New("Filename outside current directory tree, aborting")
	}

	out := func() (f *fits.Cube, err error) {
		return op.Apply(nil, c)
	}
	return []Promise{out}, nil
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory
func isPathAllowed(p string) bool {
	if filepath.IsAbs(p) { // relative paths only
		return false
	}
	if strings.Contains(p, "..") { // no going outside the tree
		return false
	}
	return true
}

func (op *OpLoad) Apply(f *fits.Cube, c *Context) (result *fits.Cube, err error) {
	f, err = fits.NewCubeFromFile(op.FileName, op.ID, c.Log)
	if err != nil {
		return nil, err
	}

	warning := ""
	if f.Wavelengths == nil {
		warning = "; WARNING no wavelengths"
	}
	fmt.Fprintf(c.Log, "%d: Loaded %s cube with %d bands from %s%s\n",
		f.ID, f.DimensionsToString(), f.Bands, f.FileName, warning)
	return f, nil
}

// Load many FITS cubes from a slice of filename patterns with wildcards.
// Takes zero inputs, produces n outputs
type OpLoadMany struct {
	OpBase
	FilePatterns []string `json:"filePatterns"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadManyDefault() }) } // register the operator for JSON decoding

func NewOpLoadManyDefault() *OpLoadMany { return NewOpLoadMany(nil) }

func NewOpLoadMany(filePatterns []string) *OpLoadMany {
	return &OpLoadMany{
		OpBase:       OpBase{Type: "loadMany", Active: true},
		FilePatterns: filePatterns,
	}
}

// Turn filename wildcards into list of file load operators
func (op *OpLoadMany) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) > 0 {
		return nil, fmt.Errorf("%s operator with non-zero input", op.Type)
	}
	for _, pattern := range op.FilePatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			if !c.AllowAbsPaths && !isPathAllowed(match) {
				fmt.Fprintf(c.Log, "Pattern match outside current directory tree, skipping\n")
				continue
			}
			opLoad := NewOpLoad(len(outs), match)
			promises, err := opLoad.MakePromises(nil, c)
			if err != nil {
				return nil, err
			}
			outs = append(outs, promises...)
		}
	}
	if len(outs) == 0 {
		return nil, fmt.Errorf("%s operator with no files to load from pattern %v", op.Type, op.FilePatterns)
	}
	fmt.Fprintf(c.Log, "Found %d files.\n", len(outs))
	return outs, nil
}

// Saves given promise under a given filename, with pattern expansion for %d based on the cube id,
// and %auto based on the cube file name. Takes one input, produces one output (the materialized but unchanged input)
type OpSave struct {
	OpUnaryBase
	FilePattern string  `json:"filePattern"`
	Gamma       float32 `json:"gamma"` // for RGB quicklooks
}

func init() { SetOperatorFactory(func() Operator { return NewOpSaveDefault() }) } // register the operator for JSON decoding

func NewOpSaveDefault() *OpSave { return NewOpSave("") }

func NewOpSave(filenamePattern string) *OpSave {
	op := OpSave{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "save", Active: filenamePattern != ""}},
		FilePattern: filenamePattern,
		Gamma:       1,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal with defaults, and rebind the abstract method to the decoded operator
func (op *OpSave) UnmarshalJSON(data []byte) error {
	type defaults OpSave
	def := defaults(*NewOpSaveDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpSave(def)
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

// Expands %d with the cube ID, and %auto with the cube file name minus its extension
func ExpandFileName(pattern string, f *fits.Cube) string {
	fileName := pattern
	if strings.Contains(fileName, "%d") {
		fileName = strings.ReplaceAll(fileName, "%d", fmt.Sprintf("%d", f.ID))
	}
	if strings.Contains(fileName, "%auto") {
		if fileName == "%auto" {
			return f.FileName
		}
		fileName = strings.ReplaceAll(fileName, "%auto", TrimFITSExt(f.FileName))
	}
	return fileName
}

var fitsSuffixes = []string{".fits", ".fit", ".fts"}

// Returns true if the file name has a FITS suffix, optionally gzipped
func IsFITSName(fileName string) bool {
	fnLower := strings.ToLower(fileName)
	fnLower = strings.TrimSuffix(strings.TrimSuffix(fnLower, ".gz"), ".gzip")
	for _, s := range fitsSuffixes {
		if strings.HasSuffix(fnLower, s) {
			return true
		}
	}
	return false
}

// Removes a FITS suffix, optionally gzipped, from a file name
func TrimFITSExt(fileName string) string {
	if !IsFITSName(fileName) {
		return strings.TrimSuffix(fileName, filepath.Ext(fileName))
	}
	fileName = strings.TrimSuffix(fileName, filepath.Ext(fileName))
	if l := strings.ToLower(fileName); !strings.HasSuffix(l, ".fits") && !strings.HasSuffix(l, ".fit") && !strings.HasSuffix(l, ".fts") {
		return fileName
	}
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

func (op *OpSave) Apply(f *fits.Cube, c *Context) (result *fits.Cube, err error) {
	if !op.Active || op.FilePattern == "" {
		return f, nil
	}
	fileName := ExpandFileName(op.FilePattern, f)
	if !c.AllowAbsPaths && !isPathAllowed(fileName) {
		return nil, fmt.Errorf("%d: Filename %s outside current directory tree, aborting", f.ID, fileName)
	}
	if err = SaveCube(f, fileName, op.Gamma, c.Log); err != nil {
		return nil, err
	}
	return f, nil
}

// Saves a cube to the given file, choosing the format by suffix. FITS files
// hold the full cube. JPEG and TIFF quicklooks show a single band as a colour
// ramp or gray, and three bands as RGB, scaled to the 2nd to 98th percentile.
func SaveCube(f *fits.Cube, fileName string, gamma float32, logWriter io.Writer) (err error) {
	fnLower := strings.ToLower(fileName)
	if gamma <= 0 {
		gamma = 1
	}

	if IsFITSName(fileName) {
		fmt.Fprintf(logWriter, "%d: Writing %s pixel FITS to %s\n", f.ID, f.DimensionsToString(), fileName)
		if strings.HasSuffix(fnLower, ".gz") || strings.HasSuffix(fnLower, ".gzip") {
			err = writeGzip(f, fileName)
		} else {
			err = f.WriteFile(fileName)
		}
	} else if strings.HasSuffix(fnLower, ".jpeg") || strings.HasSuffix(fnLower, ".jpg") {
		min, max := quicklookRange(f)
		if f.Bands == 3 {
			fmt.Fprintf(logWriter, "%d: Writing %s pixel color JPEG to %s ...\n", f.ID, f.DimensionsToString(), fileName)
			err = f.WriteRGBJPGToFile(fileName, [3]int{0, 1, 2}, min, max, gamma, 95)
		} else {
			fmt.Fprintf(logWriter, "%d: Writing %s pixel colorized JPEG of band '%s' to %s ...\n", f.ID, f.DimensionsToString(), f.BandName(0), fileName)
			err = f.WriteColorJPGToFile(fileName, 0, min, max, 95)
		}
	} else if strings.HasSuffix(fnLower, ".tiff") || strings.HasSuffix(fnLower, ".tif") {
		min, max := quicklookRange(f)
		if f.Bands == 3 {
			fmt.Fprintf(logWriter, "%d: Writing %s pixel 16-bit RGB TIFF to %s ...\n", f.ID, f.DimensionsToString(), fileName)
			err = f.WriteTIFF16ToFile(fileName, [3]int{0, 1, 2}, min, max, gamma)
		} else {
			fmt.Fprintf(logWriter, "%d: Writing %s pixel 16-bit TIFF of band '%s' to %s ...\n", f.ID, f.DimensionsToString(), f.BandName(0), fileName)
			err = f.WriteMonoTIFF16ToFile(fileName, 0, min, max, gamma)
		}
	} else {
		err = errors.New("Unknown suffix")
	}
	if err != nil {
		return fmt.Errorf("%d: Error writing to file %s: %w", f.ID, fileName, err)
	}
	return nil
}

// Returns the 2nd and 98th percentile of the first band, or of the first three bands
func quicklookRange(f *fits.Cube) (min, max float32) {
	n := 1
	if f.Bands == 3 {
		n = 3
	}
	s := stats.Calc(f.Data[:n*f.Pixels], f.NoData)
	min, max = s.P02, s.P98
	if !(max > min) {
		min, max = s.Min, s.Max
	}
	if !(max > min) {
		max = min + 1
	}
	return min, max
}

func writeGzip(f *fits.Cube, fileName string) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(file)
	if err = f.Write(gz); err != nil {
		file.Close()
		return err
	}
	if err = gz.Close(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Applies a sequence of operators to a promise. Number of inputs, outputs as per the chained steps
type OpSequence struct {
	OpBase
	Steps    []Operator        `json:"-"`     // the actual steps
	StepsRaw []json.RawMessage `json:"steps"` // helper for unmarshaling
}

func init() { SetOperatorFactory(func() Operator { return NewOpSequenceDefault() }) } // register the operator for JSON decoding

func NewOpSequenceDefault() *OpSequence { return NewOpSequence() }

func NewOpSequence(steps ...Operator) *OpSequence {
	return &OpSequence{
		OpBase: OpBase{Type: "seq", Active: true},
		Steps:  steps,
	}
}

// Unmarshals a sequence of polymorphic operators from JSON.
// Uses temporary op.StepsRaw inspired by https://alexkappa.medium.com/json-polymorphism-in-go-4cade1e58ed1
func (op *OpSequence) UnmarshalJSON(b []byte) error {
	type alias OpSequence
	if err := json.Unmarshal(b, (*alias)(op)); err != nil {
		return err
	}

	for _, raw := range op.StepsRaw {
		step, err := UnmarshalOperator(raw)
		if err != nil {
			return err
		}
		op.Steps = append(op.Steps, step)
	}
	op.StepsRaw = nil
	return nil
}

// Appends one or more operators to the existing sequence
func (op *OpSequence) Append(steps ...Operator) {
	op.Steps = append(op.Steps, steps...)
}

// Marshals a sequence with polymorphic operators to JSON.
// Uses the actual op.Steps with label "steps", and ignores op.StepsRaw
func (op *OpSequence) MarshalJSON() (bs []byte, err error) {
	buf := bytes.Buffer{}
	buf.WriteString("{\"type\":")
	inner, err := json.Marshal(op.Type)
	if err != nil {
		return nil, err
	}
	buf.Write(inner)
	fmt.Fprintf(&buf, ", \"active\":%v, \"steps\":", op.Active)
	if op.Steps == nil {
		buf.WriteString("[]")
	} else {
		inner, err = json.Marshal(op.Steps)
		if err != nil {
			return nil, err
		}
		buf.Write(inner)
	}
	buf.WriteRune('}')
	return buf.Bytes(), nil
}

func (op *OpSequence) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	return op.applyRecursive(op.Steps, ins, c)
}

func (op *OpSequence) applyRecursive(steps []Operator, ins []Promise, c *Context) (outs []Promise, err error) {
	if len(steps) == 0 {
		return ins, nil
	}
	if steps[0].IsActive() {
		ins, err = steps[0].MakePromises(ins, c)
		if err != nil {
			return nil, err
		}
	}
	return op.applyRecursive(steps[1:], ins, c)
}

// Applies a single operator to each input. Takes n inputs, produces n outputs
type OpForEach struct {
	OpBase
	Operation Operator `json:"operation"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpForEachDefault() }) } // register the operator for JSON decoding

func NewOpForEachDefault() *OpForEach { return NewOpForEach(nil) }

func NewOpForEach(operation Operator) *OpForEach {
	return &OpForEach{
		OpBase:    OpBase{Type: "forEach", Active: true},
		Operation: operation,
	}
}

// Unmarshals the polymorphic embedded operation from JSON
func (op *OpForEach) UnmarshalJSON(b []byte) error {
	var aux struct {
		OpBase
		Operation json.RawMessage `json:"operation"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	op.OpBase = aux.OpBase
	if len(aux.Operation) == 0 || string(aux.Operation) == "null" {
		op.Operation = nil
		return nil
	}
	inner, err := UnmarshalOperator(aux.Operation)
	if err != nil {
		return err
	}
	op.Operation = inner
	return nil
}

// Applies the operation to all inputs, one promise at a time
func (op *OpForEach) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) == 0 {
		return ins, nil
	}
	if op.Operation == nil {
		return nil, fmt.Errorf("%s operator has no operation to apply", op.Type)
	}
	for _, in := range ins {
		out, err := op.Operation.MakePromises([]Promise{in}, c)
		if err != nil {
			return nil, err
		}
		if len(out) != 1 {
			return nil, fmt.Errorf("%s operator needs exactly one promise from embedded operation", op.Type)
		}
		outs = append(outs, out[0])
	}
	return outs, nil
}
