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

package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mlnoga/asi/internal/continuum"
	"github.com/mlnoga/asi/internal/ops"
	_ "github.com/mlnoga/asi/internal/ops/asi" // register the asi operators
	"github.com/vmihailenco/msgpack/v5"
)

// Content type of MessagePack request and response bodies
const MimeMsgPack = "application/x-msgpack"

// Header carrying the id of a pipeline run
const RunIDHeader = "X-Run-Id"

// Serves the REST API on the given port until the server fails
func Serve(port int) error {
	return NewRouter().Run(fmt.Sprintf(":%d", port))
}

// Returns a router with all API routes
func NewRouter() *gin.Engine {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/spectrum", postSpectrum)
			v1.POST("/run", postRun)
		}
	}
	return r
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

// A single spectrum to process, with the engine configuration
type SpectrumRequest struct {
	Wavelengths     []float64        `json:"wavelengths"`
	Spectrum        []float64        `json:"spectrum"`
	NoData          *float64         `json:"noData"` // input sentinel, nil for NaN
	ExcludeDefaults bool             `json:"excludeDefaults"`
	Config          continuum.Config `json:"config"`
}

func isMsgPack(contentType string) bool {
	return strings.Contains(contentType, "msgpack")
}

func postSpectrum(c *gin.Context) {
	req := SpectrumRequest{Config: continuum.DefaultConfig()}
	req.Config.Low, req.Config.High = 0, 0 // by mode

	var err error
	if isMsgPack(c.ContentType()) {
		dec := msgpack.NewDecoder(c.Request.Body)
		dec.SetCustomStructTag("json")
		err = dec.Decode(&req)
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Config.Low == 0 && req.Config.High == 0 && req.Config.Mode == continuum.Standard {
		def := continuum.DefaultConfig()
		req.Config.Low, req.Config.High = def.Low, def.High
	}

	m := continuum.Manifest{Wavelengths: req.Wavelengths, NoData: math.NaN(), Width: 1, Height: 1}
	if req.NoData != nil {
		m.NoData = *req.NoData
	}
	if req.ExcludeDefaults {
		m.Excluded = continuum.DefaultExclusions(req.Wavelengths)
	}
	e, err := continuum.Configure(m, req.Config)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Spectrum) != len(req.Wavelengths) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%d values for %d wavelengths", len(req.Spectrum), len(req.Wavelengths))})
		return
	}
	res := e.ProcessPixel(req.Spectrum)
	res.Sanitize(e.Config().NoData) // JSON has no NaN or Inf

	if isMsgPack(c.GetHeader("Accept")) {
		c.Header("Content-Type", MimeMsgPack)
		c.Status(http.StatusOK)
		enc := msgpack.NewEncoder(c.Writer)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(&res); err != nil {
			c.Error(err)
		}
		return
	}
	c.JSON(http.StatusOK, &res)
}

// Serializes writes from parallel operators, and flushes each to the client
type streamWriter struct {
	mutex sync.Mutex
	w     gin.ResponseWriter
}

func (s *streamWriter) Write(p []byte) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	n, err := s.w.Write(p)
	s.w.Flush()
	return n, err
}

// Runs an operator pipeline given as JSON, and streams its log as plain text.
// The run is cancelled at the next block boundary if the client disconnects.
func postRun(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	op, err := ops.UnmarshalOperator(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := uuid.New()
	c.Header(RunIDHeader, id.String())
	c.Header("Content-Type", "text/plain")
	c.Status(http.StatusOK)
	logWriter := &streamWriter{w: c.Writer}

	cancel := &continuum.CancelFlag{}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-c.Request.Context().Done():
			cancel.Cancel()
		case <-done:
		}
	}()

	ctx := ops.NewContext(logWriter)
	ctx.Monitor = cancel
	if err := Run(id, op, ctx); err != nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
	}
}

// Runs an operator with no inputs to completion, logging its arguments and duration
func Run(id uuid.UUID, op ops.Operator, c *ops.Context) error {
	if err := printArgs(c.Log, fmt.Sprintf("Run %s arguments:\n", id), "\n", op); err != nil {
		return err
	}
	start := time.Now()
	promises, err := op.MakePromises(nil, c)
	if err != nil {
		return err
	}
	_, err = ops.MaterializeAll(promises, c.MaxThreads, true)
	if errors.Is(err, continuum.ErrCancelled) {
		fmt.Fprintf(c.Log, "Run %s cancelled after %v\n", id, time.Since(start).Round(time.Millisecond))
		return err
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "Run %s done in %v\n", id, time.Since(start).Round(time.Millisecond))
	return nil
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}
