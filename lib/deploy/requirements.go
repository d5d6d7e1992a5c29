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
	"strings"

	"github.com/gravitational/rolldeploy/lib/constants"
	"github.com/gravitational/rolldeploy/lib/defaults"
	"github.com/gravitational/rolldeploy/lib/packages"
	"github.com/gravitational/rolldeploy/lib/remote"

	"github.com/gravitational/trace"
	shellquote "github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
)

// requirement is a dependency manifest of a package
type requirement struct {
	// file is the manifest path relative to the repository root
	file string
	// contents is the command printing the contents the checksum is computed of.
	// Defaults to the manifest itself
	contents string
	// commands install the dependencies
	commands []string
	// opts are the options of the install commands
	opts []remote.Option
}

// requirements lists the dependency manifests in installation order
func requirements() []requirement {
	pip := func(file, contents string) requirement {
		return requirement{
			file:     file,
			contents: contents,
			commands: []string{
				fmt.Sprintf("source %v && pip install --exists-action w -r %v",
					defaults.PythonEnvironment, shellquote.Join(file)),
			},
			opts: []remote.Option{
				remote.Env(constants.EnvGitSSH, defaults.GitSSHWrapper),
				remote.Env("PIP_DOWNLOAD_CACHE", defaults.PipDownloadCache),
			},
		}
	}
	rbenv := `which rbenv && eval "$(rbenv init -)"`
	return []requirement{
		pip("pre-requirements.txt", ""),
		pip("requirements.txt", "cat *requirements.txt"),
		pip("requirements/base.txt", "cat requirements/*.txt"),
		pip("requirements/post.txt", ""),
		{
			file: "Gemfile",
			commands: []string{
				rbenv + " && gem install bundler",
				rbenv + " && bundle install --binstubs",
			},
			opts: []remote.Option{
				remote.Env("RBENV_ROOT", defaults.RbenvRoot),
				remote.Env(defaults.PathEnv, path.Join(defaults.RbenvRoot, "bin")+":"+defaults.PathEnvVal),
			},
		},
		{
			file:     "package.json",
			commands: []string{"npm install"},
		},
	}
}

// installRequirements installs the dependencies of pkg whose
// manifests changed since they were last installed
func (r *applier) installRequirements(ctx context.Context, runner remote.Runner, pkg packages.Descriptor) error {
	for _, req := range requirements() {
		if err := r.runIfChanged(ctx, runner, pkg, req); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// runIfChanged runs the install commands of req if the checksum of its
// contents differs from the one recorded after the last install
func (r *applier) runIfChanged(ctx context.Context, runner remote.Runner, pkg packages.Descriptor, req requirement) error {
	logger := r.WithFields(logrus.Fields{
		constants.FieldHost:    runner.Host(),
		constants.FieldPackage: pkg.Name,
		"file":                 req.file,
	})
	exists, err := remote.Exists(ctx, runner, path.Join(pkg.Root, req.file))
	if err != nil {
		return trace.Wrap(err)
	}
	if !exists {
		return nil
	}
	contents := req.contents
	if contents == "" {
		contents = "cat " + shellquote.Join(req.file)
	}
	checksumCommand := fmt.Sprintf("%v | %v", contents, defaults.ChecksumCommand)
	checksumFile := ChecksumFile(pkg, req.file)

	recorded, err := remote.Exists(ctx, runner, checksumFile)
	if err != nil {
		return trace.Wrap(err)
	}
	if recorded {
		current, err := runner.Sudo(ctx, checksumCommand, remote.Dir(pkg.Root), remote.ReadOnly())
		if err != nil {
			return trace.Wrap(err)
		}
		previous, err := runner.Sudo(ctx, "cat "+shellquote.Join(checksumFile), remote.ReadOnly())
		if err != nil {
			return trace.Wrap(err)
		}
		if strings.TrimSpace(current) == strings.TrimSpace(previous) {
			logger.Debug("Requirements unchanged.")
			return nil
		}
	}

	r.Progress.PrintSubStep("Installing %v of %v.", req.file, pkg.Name)
	opts := append([]remote.Option{remote.Dir(pkg.Root)}, req.opts...)
	for _, command := range req.commands {
		if _, err := runner.Sudo(ctx, command, opts...); err != nil {
			return trace.Wrap(err)
		}
	}
	_, err = runner.Sudo(ctx, fmt.Sprintf("%v > %v", checksumCommand, shellquote.Join(checksumFile)),
		remote.Dir(pkg.Root))
	return trace.Wrap(err)
}

// ChecksumFile returns the path of the file with the checksum of the
// manifest file of pkg recorded after the last install
func ChecksumFile(pkg packages.Descriptor, file string) string {
	return path.Join(defaults.ChecksumDir, fmt.Sprintf("%v-%v.md5",
		strings.Replace(pkg.Repo.Name, "/", "-", -1), strings.Replace(file, "/", "-", -1)))
}
