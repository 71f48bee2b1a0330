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

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/cpuid"
	nl "github.com/mlnoga/asi/internal"
	"github.com/mlnoga/asi/internal/continuum"
	"github.com/mlnoga/asi/internal/ops"
	"github.com/mlnoga/asi/internal/ops/asi"
	"github.com/mlnoga/asi/internal/rest"
	"github.com/pbnjay/memory"
)

const version = "0.1.0"

var totalMiBs = memory.TotalMemory() / 1024 / 1024

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out = flag.String("out", "%auto", "save index raster to `file`. %auto appends _asi or _3band_car_cab_h2o to the input name, %d inserts the file number")
var crs = flag.String("crs", "", "save continuum removed cube to `file`. %auto appends _crs to the input name")
var jpg = flag.String("jpg", "%auto", "save 8bit colorized preview of the index raster as JPEG to `file`. %auto replaces the suffix of the output file with .jpg")
var tiff = flag.String("tiff", "", "save 16bit preview of the index raster as TIFF to `file`. %auto replaces the suffix of the output file with .tif")
var logName = flag.String("log", "%auto", "save log output to `file`. %auto replaces the suffix of a fixed output file with .log")

var mode = flag.String("mode", "standard", "continuum removal mode, standard for a single absorption index, threeBand for Car/Cab, Cab and H2O")
var low = flag.Float64("low", 0, "analysis window start in nm, 0=550 (standard) or 460 (threeBand)")
var high = flag.Float64("high", 0, "analysis window end in nm, 0=800 (standard) or 1105 (threeBand)")
var lookahead = flag.Int("lookahead", 9, "peak detection lookahead in bands")
var delta = flag.Float64("delta", 0, "minimum drop in reflectance for a peak")
var div = flag.Float64("div", 0, "division factor to obtain reflectance from raw values, 0=auto (10000 for integer cubes, else 1)")
var noData = flag.Float64("nodata", -999, "output no-data value")
var exclude = flag.String("exclude", "", "gap-fill wavelength ranges in nm, e.g. 1333-1479,1780-2000. empty or default for water vapour and EnMAP overlap bands, none to disable")
var threads = flag.Int("threads", 0, "worker threads, 0=all logical cores")
var block = flag.Int("block", 0, "rows per block, 0=derive from memory")
var samples = flag.Int("samples", 4096, "random pixels per band for the stats command")
var stMemory = flag.Int64("memory", int64((totalMiBs*5)/10), "total MiB of memory to use for blocks, default=0.5x physical memory")

var port = flag.Int("port", 8080, "port for the serve command")
var chroot = flag.String("chroot", "", "chroot to `dir` for the serve command")
var setuid = flag.Int("setuid", -1, "set user id for the serve command, -1=keep")

func main() {
	logWriter := nl.Log
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `ASI Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (run|find|stats|serve|legal|version) (cube0.fits ... cuben.fits)

Commands:
  run     Remove the continuum of input cubes and save absorption index rasters
  find    Find a vegetation pixel and show its peaks, hull and continuum removal table
  stats   Show band statistics of input cubes
  serve   Serve the REST API
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	// Initialize logging to file in addition to stdout, if selected
	*logName = autoName(*logName, *out, ".log")
	if *logName != "" && (args[0] == "run" || args[0] == "find" || args[0] == "stats") {
		if err := nl.LogAlsoToFile(*logName); err != nil {
			nl.LogFatalf("Unable to open logfile '%s'\n", *logName)
		}
	}
	defer nl.LogClose()

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			nl.LogFatal("Could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			nl.LogFatal("Could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	var err error
	switch args[0] {
	case "run", "find", "stats":
		err = runPipeline(args[0], args[1:], logWriter)

	case "serve":
		if err = rest.MakeSandbox(*chroot, *setuid, logWriter); err == nil {
			err = rest.Serve(*port)
		}

	case "legal":
		cmdLegal()

	case "version":
		cmdVersion(logWriter)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}
	if err != nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		nl.LogClose()
		os.Exit(1)
	}

	nl.LogPrintln("\nDone after", time.Since(start))

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			nl.LogFatal("Could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.WriteHeapProfile(f); err != nil {
			nl.LogFatal("Could not write memory profile: ", err)
		}
	}
}

// Resolves a %auto file name from a fixed output file name by replacing the
// suffix. Returns the empty string if the output is itself a pattern
func autoName(name, out, suffix string) string {
	if name != "%auto" {
		return name
	}
	if out == "" || strings.Contains(out, "%") {
		return ""
	}
	return ops.TrimFITSExt(out) + suffix
}

// Resolves a %auto quicklook pattern relative to the output pattern
func quicklookPattern(name, out, suffix string) string {
	if name != "%auto" {
		return name
	}
	if out == "" {
		return ""
	}
	if strings.Contains(out, "%auto") || strings.Contains(out, "%d") {
		return "%auto" + suffix // expanded per saved cube
	}
	return ops.TrimFITSExt(out) + suffix
}

// Parses comma-separated wavelength ranges like 1333-1479,1780-2000
func parseRanges(s string) (rs []continuum.Range, err error) {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lh := strings.SplitN(part, "-", 2)
		if len(lh) != 2 {
			return nil, fmt.Errorf("range '%s' lacks a '-'", part)
		}
		l, err := strconv.ParseFloat(strings.TrimSpace(lh[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("range '%s': %w", part, err)
		}
		h, err := strconv.ParseFloat(strings.TrimSpace(lh[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("range '%s': %w", part, err)
		}
		if l > h {
			return nil, fmt.Errorf("range '%s' is empty", part)
		}
		rs = append(rs, continuum.Range{Low: l, High: h})
	}
	return rs, nil
}

// Builds the engine configuration from the flags
func configFromFlags() (cfg continuum.Config, excludeDefaults bool, err error) {
	cfg = continuum.DefaultConfig()
	if err = cfg.Mode.UnmarshalText([]byte(*mode)); err != nil {
		return cfg, false, err
	}
	cfg.Low, cfg.High = *low, *high
	cfg.Lookahead, cfg.Delta = *lookahead, *delta
	cfg.DivisionFactor, cfg.NoData = *div, *noData
	cfg.Threads = *threads
	if *exclude == "" || *exclude == "default" {
		return cfg, true, nil
	}
	if *exclude != "none" {
		cfg.Exclude, err = parseRanges(*exclude)
	}
	return cfg, false, err
}

// Returns the default worker count: logical cores if detectable, else GOMAXPROCS
func defaultThreads() int {
	if n := cpuid.CPU.LogicalCores; n > 0 && n <= runtime.GOMAXPROCS(0) {
		return n
	}
	return runtime.GOMAXPROCS(0)
}

// Builds the operator pipeline for a command
func buildPipeline(cmd string, files []string) (*ops.OpSequence, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%s needs at least one input file", cmd)
	}
	cfg, excludeDefaults, err := configFromFlags()
	if err != nil {
		return nil, err
	}

	var perFile ops.Operator
	switch cmd {
	case "run":
		opASI := asi.NewOpASI(cfg, excludeDefaults, *crs)
		opASI.BlockRows = *block
		perFile = ops.NewOpSequence(
			opASI,
			ops.NewOpSave(*out),
			ops.NewOpSave(quicklookPattern(*jpg, *out, ".jpg")),
			ops.NewOpSave(quicklookPattern(*tiff, *out, ".tif")),
		)
	case "find":
		perFile = asi.NewOpFind(cfg, excludeDefaults, -1, -1)
	case "stats":
		perFile = asi.NewOpSample(*samples, 256, "")
	default:
		return nil, fmt.Errorf("unknown command '%s'", cmd)
	}
	return ops.NewOpSequence(ops.NewOpLoadMany(files), ops.NewOpForEach(perFile)), nil
}

func runPipeline(cmd string, files []string, logWriter io.Writer) error {
	seq, err := buildPipeline(cmd, files)
	if err != nil {
		return err
	}
	m, err := json.MarshalIndent(seq, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "Running %s with these settings:\n%s\n", cmd, string(m))

	c := ops.NewContext(logWriter)
	c.AllowAbsPaths = true
	c.BlockMemoryMB = int(*stMemory)
	c.MaxThreads = defaultThreads()
	if *threads > 0 {
		c.MaxThreads = *threads
	}
	c.Monitor = &continuum.CancelFlag{}
	c.Tally = &continuum.Tally{}

	promises, err := seq.MakePromises(nil, c)
	if err != nil {
		return err
	}
	_, err = ops.MaterializeAll(promises, 1, true) // one cube at a time, each uses all threads
	if total := c.Tally.Counts(); len(files) > 1 && total.Total() > 0 {
		fmt.Fprintf(logWriter, "Total %s in %d files\n", total, len(files))
	}
	return err
}

func cmdVersion(logWriter io.Writer) {
	fmt.Fprintf(logWriter, "Version %s\n", version)
	fmt.Fprintf(logWriter, "CPU %s with %d physical and %d logical cores, AVX2 %v\n",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, cpuid.CPU.AVX2())
	fmt.Fprintf(logWriter, "%d MiB physical memory, %d worker threads by default\n", totalMiBs, defaultThreads())
}

func cmdLegal() {
	fmt.Fprint(nl.Log, legal)
}
