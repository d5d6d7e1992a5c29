/*
Copyright 2020 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package utils

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Progress narrates the deploy to the operator.
// Narration is separate from logging: it is always printed unless silenced
type Progress interface {
	// NextStep prints information about the next step
	NextStep(message string, args ...interface{})
	// PrintSubStep outputs the message as a sub-step of the current step
	PrintSubStep(message string, args ...interface{})
	// Print outputs the specified message in regular color
	Print(message string, args ...interface{})
	// PrintInfo outputs the specified info message in color
	PrintInfo(message string, args ...interface{})
	// PrintWarn outputs the specified warning message in color and logs the error
	PrintWarn(err error, message string, args ...interface{})
	// Stop prints the summary of the narrated operation
	Stop(err error)
}

// ProgressConfig defines configuration for the progress printer
type ProgressConfig struct {
	// Title names the narrated operation
	Title string
	// Output specifies the output sink.
	// Defaults to os.Stdout if unspecified
	Output io.Writer
	// Noop prefixes every message to highlight that nothing is changed
	Noop bool
	// StepPrinter allows to override printer that prints a single step.
	StepPrinter StepPrinter
}

// NewProgress returns new progress printer for the given set of options
func NewProgress(config ProgressConfig) Progress {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.StepPrinter == nil {
		config.StepPrinter = TimestampedStepPrinter
	}
	return &progressPrinter{
		ProgressConfig: config,
		start:          time.Now(),
	}
}

type progressPrinter struct {
	ProgressConfig
	sync.Mutex
	current int
	start   time.Time
}

// NextStep prints information about next step
func (p *progressPrinter) NextStep(message string, args ...interface{}) {
	p.Lock()
	defer p.Unlock()
	p.current++
	p.print(fmt.Sprintf("* [%v] %v", p.current, fmt.Sprintf(message, args...)))
}

// PrintSubStep outputs the message as a sub-step of the current step
func (p *progressPrinter) PrintSubStep(message string, args ...interface{}) {
	p.Lock()
	defer p.Unlock()
	p.print("\t" + fmt.Sprintf(message, args...))
}

// Print outputs the specified message in regular color
func (p *progressPrinter) Print(message string, args ...interface{}) {
	p.Lock()
	defer p.Unlock()
	p.print(fmt.Sprintf(message, args...))
}

// PrintInfo outputs the specified info message in color
func (p *progressPrinter) PrintInfo(message string, args ...interface{}) {
	p.Lock()
	defer p.Unlock()
	p.print(color.BlueString(message, args...))
}

// PrintWarn outputs the specified warning message in color and logs the error
func (p *progressPrinter) PrintWarn(err error, message string, args ...interface{}) {
	p.Lock()
	defer p.Unlock()
	p.print(color.YellowString(message, args...))
	if err != nil {
		logrus.Warnf("%v: %v", fmt.Sprintf(message, args...), err)
	}
}

// Stop prints the summary of the narrated operation
func (p *progressPrinter) Stop(err error) {
	p.Lock()
	defer p.Unlock()
	diff := humanize.RelTime(p.start, time.Now(), "", "")
	if err != nil {
		p.print(color.RedString("%v aborted after %v", p.Title, diff))
		return
	}
	p.print(color.GreenString("%v completed in %v", p.Title, diff))
}

func (p *progressPrinter) print(message string) {
	if p.Noop {
		message = "[noop] " + message
	}
	p.StepPrinter(p.Output, message)
}

// StepPrinter prints a single step message.
type StepPrinter func(out io.Writer, message string)

// DefaultStepPrinter outputs the message to out as it is.
func DefaultStepPrinter(out io.Writer, message string) {
	fmt.Fprintf(out, "%v\n", message)
}

// TimestampedStepPrinter adds timestamps to the printed messages.
func TimestampedStepPrinter(out io.Writer, message string) {
	timestamp := color.New(color.Bold).Sprint(time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "[ %v ] %v\n", timestamp, message)
}

// DiscardProgress is a progress reporter that discards all progress output
var DiscardProgress Progress = nopProgress{}

type nopProgress struct{}

func (nopProgress) NextStep(string, ...interface{})         {}
func (nopProgress) PrintSubStep(string, ...interface{})     {}
func (nopProgress) Print(string, ...interface{})            {}
func (nopProgress) PrintInfo(string, ...interface{})        {}
func (nopProgress) PrintWarn(error, string, ...interface{}) {}
func (nopProgress) Stop(error)                              {}
