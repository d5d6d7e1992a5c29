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

package deploy

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/gravitational/rolldeploy/lib/constants"
	"github.com/gravitational/rolldeploy/lib/defaults"
	"github.com/gravitational/rolldeploy/lib/metrics"
	"github.com/gravitational/rolldeploy/lib/remote"
	"github.com/gravitational/rolldeploy/lib/remote/remotetest"

	shellquote "github.com/kballard/go-shellquote"
)

// fakeHost simulates the repositories and files of a managed host
// behind a scripted runner
type fakeHost struct {
	*remotetest.Runner
	mu sync.Mutex
	// repos maps repository roots to their checked out revision
	repos map[string]string
	// plain lists directories that exist but are not git repositories
	plain map[string]bool
	// files maps file paths to their contents
	files map[string]string
}

func newFakeHost(name string, repos map[string]string) *fakeHost {
	r := &fakeHost{
		Runner: remotetest.New(name),
		repos:  make(map[string]string),
		plain:  make(map[string]bool),
		files:  make(map[string]string),
	}
	for root, revision := range repos {
		r.repos[root] = revision
	}
	r.On("git rev-parse HEAD", r.installed)
	r.On("test -e ", r.test)
	r.On("git clone ", r.clone)
	r.On("git reset --hard ", r.reset)
	r.On("rm -rf ", r.remove)
	r.On(defaults.ChecksumCommand, r.checksum)
	r.On("cat "+defaults.ChecksumDir, r.cat)
	r.OnOutput("169.254.169.254", "i-"+name)
	return r
}

func (r *fakeHost) revision(root string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.repos[root]
}

func (r *fakeHost) setFile(path, contents string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[path] = contents
}

func (r *fakeHost) installed(remotetest.Call) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var lines []string
	for root, revision := range r.repos {
		lines = append(lines, fmt.Sprintf("%v %v", root, revision))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n"), nil
}

func (r *fakeHost) test(call remotetest.Call) (string, error) {
	args, err := shellquote.Split(call.Command)
	if err != nil {
		return "", err
	}
	target := resolve(call, args[2])
	r.mu.Lock()
	defer r.mu.Unlock()
	_, isRepo := r.repos[target]
	_, isFile := r.files[target]
	_, isGitDir := r.repos[path.Dir(target)]
	isGitDir = isGitDir && path.Base(target) == ".git"
	if isRepo || isFile || isGitDir || r.plain[target] {
		return "", nil
	}
	return "", &remote.ExitError{Host: r.Host(), Command: call.Command, Status: 1}
}

func (r *fakeHost) clone(call remotetest.Call) (string, error) {
	args, err := shellquote.Split(call.Command)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repos[resolve(call, args[3])] = "origin"
	return "", nil
}

func (r *fakeHost) reset(call remotetest.Call) (string, error) {
	args, err := shellquote.Split(call.Command)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repos[call.Options.Dir] = args[3]
	return "", nil
}

func (r *fakeHost) remove(call remotetest.Call) (string, error) {
	args, err := shellquote.Split(call.Command)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.repos, args[2])
	delete(r.plain, args[2])
	return "", nil
}

// checksum computes the checksum of the files in the working directory
// or records it if the output is redirected to a file
func (r *fakeHost) checksum(call remotetest.Call) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var contents []string
	for file, data := range r.files {
		if strings.HasPrefix(file, call.Options.Dir+"/") {
			contents = append(contents, file+"="+data)
		}
	}
	sort.Strings(contents)
	sum := fmt.Sprintf("%x", strings.Join(contents, ";"))
	if i := strings.LastIndex(call.Command, "> "); i != -1 {
		args, err := shellquote.Split(call.Command[i+2:])
		if err != nil {
			return "", err
		}
		r.files[args[0]] = sum
		return "", nil
	}
	return sum, nil
}

func (r *fakeHost) cat(call remotetest.Call) (string, error) {
	args, err := shellquote.Split(call.Command)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.files[args[1]], nil
}

func resolve(call remotetest.Call, target string) string {
	if path.IsAbs(target) {
		return target
	}
	return path.Join(call.Options.Dir, target)
}

// fakePrompter answers prompts with preset decisions
type fakePrompter struct {
	mu sync.Mutex
	// decline declines the confirmation
	decline bool
	// cancel cancels the package selection
	cancel bool
	// selection is the selected packages, all if unset
	selection []string
	choices   [][]string
	confirms  int
}

func (r *fakePrompter) Confirm(string, bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirms++
	return !r.decline, nil
}

func (r *fakePrompter) MultiChoose(title string, options []string) ([]string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.choices = append(r.choices, options)
	if r.cancel {
		return nil, false, nil
	}
	if r.selection == nil {
		return options, true, nil
	}
	return r.selection, true, nil
}

// fakeMigrations records the hosts checked for migrations
type fakeMigrations struct {
	mu    sync.Mutex
	hosts []string
}

func (r *fakeMigrations) Check(ctx context.Context, runner remote.Runner) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts = append(r.hosts, runner.Host())
	return true, nil
}

// recorder records the names and steps of timed events
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Start(name string, tags metrics.Tags) func() {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		event := name
		if step := tags[constants.TagStep]; step != "" {
			event += ":" + step
		}
		r.events = append(r.events, event)
	}
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}
