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

// Package prompt implements interactive operator prompts
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/gravitational/trace"
)

// New returns a prompt reading answers from in and writing questions to out
func New(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// NewConsole returns a prompt attached to the terminal
func NewConsole() *Prompt {
	return New(os.Stdin, os.Stdout)
}

// Prompt asks the operator questions
type Prompt struct {
	in  *bufio.Reader
	out io.Writer
}

// Confirm asks a yes/no question. An empty answer selects defaultYes
func (r *Prompt) Confirm(title string, defaultYes bool) (bool, error) {
	hint := "yes/no"
	if defaultYes {
		hint = "Yes/no"
	}
	answer, err := r.readCheck(fmt.Sprintf("%v (%v)", title, hint), func(v string) (string, error) {
		if v == "" {
			return strconv.FormatBool(defaultYes), nil
		}
		return checkYesNo(v)
	})
	if err != nil {
		return false, trace.Wrap(err)
	}
	confirmed, err := strconv.ParseBool(answer)
	if err != nil {
		return false, trace.Wrap(err)
	}
	return confirmed, nil
}

// MultiChoose lets the operator toggle any subset of options.
// Returns the selected options in their original order, or ok=false
// if the operator cancelled
func (r *Prompt) MultiChoose(title string, options []string) (selected []string, ok bool, err error) {
	fmt.Fprintln(r.out, color.New(color.Bold).Sprint(title))
	marks := make([]bool, len(options))
	for {
		fmt.Fprintln(r.out)
		for i, option := range options {
			mark := " "
			if marks[i] {
				mark = "*"
			}
			fmt.Fprintf(r.out, "%v%v\n", color.GreenString(mark), color.CyanString(" %v. %v", i, option))
		}
		fmt.Fprintln(r.out, color.BlueString("  a. Select all"))
		fmt.Fprintln(r.out, color.BlueString("  c. Deploy selections"))
		fmt.Fprintln(r.out, color.BlueString("  x. Cancel"))
		fmt.Fprintln(r.out)

		input, err := r.readInput("> ")
		if err != nil {
			return nil, false, trace.Wrap(err)
		}
		switch input {
		case "c":
			for i, option := range options {
				if marks[i] {
					selected = append(selected, option)
				}
			}
			return selected, true, nil
		case "a":
			for i := range marks {
				marks[i] = true
			}
			continue
		case "x":
			return nil, false, nil
		}
		index, err := strconv.Atoi(input)
		if err != nil || index < 0 || index >= len(options) {
			fmt.Fprintf(r.out, "Invalid selection ->%v<-\n", input)
			continue
		}
		marks[index] = !marks[index]
	}
}

func (r *Prompt) readCheck(prompt string, fn func(v string) (string, error)) (string, error) {
	for {
		out, err := r.readInput(prompt + ": ")
		if err != nil {
			return "", trace.Wrap(err)
		}
		out, err = fn(out)
		if err != nil {
			fmt.Fprintln(r.out, err.Error())
			continue
		}
		return out, nil
	}
}

func (r *Prompt) readInput(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	line, err := r.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", trace.Wrap(err)
	}
	return strings.TrimSpace(line), nil
}

func checkYesNo(v string) (string, error) {
	switch strings.ToLower(v) {
	case "y", "yes":
		return "true", nil
	case "n", "no":
		return "false", nil
	}
	return "", trace.BadParameter("invalid input: %v", v)
}
