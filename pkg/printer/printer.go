// Copyright 2025 The gpm Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package printer defines utilities to display gpm CLI output.
package printer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cheggaaa/pb"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

// Printer defines capabilities to display content in the gpm CLI. The
// main intention is to abstract away printing output so the UX can
// evolve without touching the core.
type Printer interface {
	Printf(format string, args ...interface{})
	ErrPrintf(format string, args ...interface{})
	// Progress returns a writer mirroring progress of a size-bytes
	// transfer to w.
	Progress(size int64, w io.Writer) io.Writer
	OutStream() io.Writer
	ErrStream() io.Writer
}

// New returns an instance of Printer.
func New(outStream, errStream io.Writer) Printer {
	if outStream == nil {
		outStream = os.Stdout
	}
	if errStream == nil {
		errStream = os.Stderr
	}
	return &printer{
		outStream: outStream,
		errStream: errStream,
	}
}

// printer implements the default Printer used in the gpm codebase.
type printer struct {
	outStream io.Writer
	errStream io.Writer
}

// OutStream returns the stdout stream; do not print error/debug logs
// to this stream.
func (pr *printer) OutStream() io.Writer {
	return pr.outStream
}

// ErrStream returns the stderr stream.
func (pr *printer) ErrStream() io.Writer {
	return pr.errStream
}

// Printf prints the formatted output to the out stream.
func (pr *printer) Printf(format string, args ...interface{}) {
	fmt.Fprintf(pr.outStream, format, args...)
}

// ErrPrintf prints the formatted output to the err stream.
func (pr *printer) ErrPrintf(format string, args ...interface{}) {
	fmt.Fprintf(pr.errStream, format, args...)
}

// Progress wraps w with a byte progress bar when stdout is a
// terminal. Otherwise it logs a single line with the transfer size and
// returns w unchanged.
func (pr *printer) Progress(size int64, w io.Writer) io.Writer {
	f, ok := pr.outStream.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		pr.Printf("downloading %s\n", humanize.Bytes(uint64(size)))
		return w
	}
	bar := pb.New64(size).SetUnits(pb.U_BYTES)
	bar.Output = pr.errStream
	bar.Start()
	return &progressWriter{w: bar.NewProxyWriter(w), bar: bar, size: size}
}

// progressWriter finishes the bar once the expected bytes went
// through.
type progressWriter struct {
	w       io.Writer
	bar     *pb.ProgressBar
	size    int64
	written int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.written >= p.size {
		p.bar.Finish()
	}
	return n, err
}

// The key type is unexported to prevent collisions with context keys
// defined in other packages.
type contextKey int

// printerKey is the context key for the printer.
const printerKey contextKey = 0

// FromContextOrDie returns the printer instance associated with the
// context. It panics if no printer is attached: commands always run
// under WithContext.
func FromContextOrDie(ctx context.Context) Printer {
	pr, ok := ctx.Value(printerKey).(Printer)
	if !ok {
		panic("printer missing from context")
	}
	return pr
}

// WithContext attaches the printer to the context.
func WithContext(ctx context.Context, pr Printer) context.Context {
	return context.WithValue(ctx, printerKey, pr)
}
