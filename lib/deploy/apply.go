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
	"sync"

	"github.com/gravitational/rolldeploy/lib/constants"
	"github.com/gravitational/rolldeploy/lib/defaults"
	"github.com/gravitational/rolldeploy/lib/metrics"
	"github.com/gravitational/rolldeploy/lib/packages"
	"github.com/gravitational/rolldeploy/lib/remote"
	"github.com/gravitational/rolldeploy/lib/version"

	"github.com/gravitational/trace"
	shellquote "github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
)

func newApplier(config Config, plan *Plan) *applier {
	return &applier{
		Config: config,
		plan:   plan,
	}
}

// applier installs the packages of a plan on a host
type applier struct {
	Config
	plan *Plan
	// migrateOnce limits the migration check to the first host
	migrateOnce sync.Once
}

// Apply installs the planned packages on the target host
func (r *applier) Apply(ctx context.Context, target Target) error {
	runner := target.Runner
	pkgs := r.plan.Packages()
	actions := r.plan.Actions()
	tags := target.Tags.Merge(metrics.Tags{
		constants.TagType:      r.plan.Type(),
		constants.FieldPackage: strings.Join(packages.Names(pkgs), ","),
	})

	if err := runner.Put(ctx, defaults.GitSSHWrapper, []byte(defaults.GitSSHWrapperScript),
		defaults.SharedExecutableMask); err != nil {
		return trace.Wrap(err)
	}
	err := r.step(tags, constants.StepPreCommands, func() error {
		return trace.Wrap(r.runCommands(ctx, runner, actions.Pre))
	})
	if err != nil {
		return trace.Wrap(err)
	}

	for _, pkg := range pkgs {
		if err := r.applyPackage(ctx, target, pkg); err != nil {
			return trace.Wrap(err)
		}
	}

	err = r.step(tags, constants.StepPackageVersion, func() error {
		return trace.Wrap(version.Write(ctx, r.Registry, runner))
	})
	if err != nil {
		return trace.Wrap(err)
	}
	err = r.step(tags, constants.StepPostCommands, func() error {
		return trace.Wrap(r.runCommands(ctx, runner, actions.Post))
	})
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(r.checkMigrations(ctx, runner))
}

func (r *applier) applyPackage(ctx context.Context, target Target, pkg packages.Descriptor) error {
	runner := target.Runner
	logger := r.WithFields(logrus.Fields{
		constants.FieldHost:     target.Host,
		constants.FieldPackage:  pkg.Name,
		constants.FieldRevision: pkg.Revision,
	})
	existing, err := remote.Exists(ctx, runner, pkg.Root)
	if err != nil {
		return trace.Wrap(err)
	}
	tags := target.Tags.Merge(metrics.Tags{
		constants.TagType:      r.plan.Type(),
		constants.FieldPackage: pkg.Name,
	})
	r.Progress.PrintSubStep("Installing %v on %v.", pkg, target.Host)

	err = r.step(tags, constants.StepClone, func() error {
		if existing {
			return trace.Wrap(r.update(ctx, runner, pkg))
		}
		if pkg.IsAbsent() {
			logger.Debug("Package is not installed, nothing to remove.")
			return nil
		}
		return trace.Wrap(r.clone(ctx, runner, pkg))
	})
	if err != nil {
		return trace.Wrap(err)
	}
	if pkg.IsAbsent() {
		return nil
	}

	err = r.step(tags, constants.StepRequirements, func() error {
		return trace.Wrap(r.installRequirements(ctx, runner, pkg))
	})
	if err != nil {
		return trace.Wrap(err)
	}
	return r.step(tags, constants.StepFact, func() error {
		return trace.Wrap(r.writeFact(ctx, runner, pkg))
	})
}

// update removes or checks out the package in its existing repository
func (r *applier) update(ctx context.Context, runner remote.Runner, pkg packages.Descriptor) error {
	gitDir := path.Join(pkg.Root, ".git")
	isRepo, err := remote.Exists(ctx, runner, gitDir)
	if err != nil {
		return trace.Wrap(err)
	}
	if !isRepo {
		return trace.CompareFailed("repository root is not a git repository - %v", gitDir)
	}
	if pkg.IsAbsent() {
		_, err := runner.Sudo(ctx, "rm -rf "+shellquote.Join(pkg.Root))
		return trace.Wrap(err)
	}
	commands := []string{
		"git remote prune origin",
		"git fetch origin",
	}
	if err := r.git(ctx, runner, pkg.Root, commands...); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(r.reset(ctx, runner, pkg))
}

// clone checks out the package into a new repository
func (r *applier) clone(ctx context.Context, runner remote.Runner, pkg packages.Descriptor) error {
	url := fmt.Sprintf(defaults.RepoURLFormat, pkg.Repo.Org, pkg.Repo.Name)
	err := r.git(ctx, runner, path.Dir(pkg.Root),
		shellquote.Join("git", "clone", url, path.Base(pkg.Root)))
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(r.reset(ctx, runner, pkg))
}

// reset moves the repository of pkg to its revision and points
// the course at its root
func (r *applier) reset(ctx context.Context, runner remote.Runner, pkg packages.Descriptor) error {
	err := r.git(ctx, runner, pkg.Root, shellquote.Join("git", "reset", "--hard", pkg.Revision))
	if err != nil {
		return trace.Wrap(err)
	}
	submodules, err := remote.Test(ctx, runner, "test -e .gitmodules", remote.Dir(pkg.Root))
	if err != nil {
		return trace.Wrap(err)
	}
	if submodules {
		if err := r.git(ctx, runner, pkg.Root, "git submodule update --init"); err != nil {
			return trace.Wrap(err)
		}
	}
	owner := fmt.Sprintf("%[1]v:%[1]v", defaults.GitUser)
	if _, err := runner.Sudo(ctx, shellquote.Join("chown", "-R", owner, "."), remote.Dir(pkg.Root)); err != nil {
		return trace.Wrap(err)
	}
	if root, ok := pkg.CourseRoot(); ok {
		return trace.Wrap(r.updateCourseXML(ctx, runner, pkg, root))
	}
	return nil
}

// updateCourseXML points course.xml of pkg at roots/<root>.xml
func (r *applier) updateCourseXML(ctx context.Context, runner remote.Runner, pkg packages.Descriptor, root string) error {
	rootFile := fmt.Sprintf("roots/%v.xml", root)
	exists, err := remote.Exists(ctx, runner, path.Join(pkg.Root, rootFile))
	if err != nil {
		return trace.Wrap(err)
	}
	if !exists {
		if r.Noop {
			r.Progress.PrintWarn(nil, "There is no %v in %v.", rootFile, pkg.Name)
			return nil
		}
		return trace.BadParameter("there is a '%v' in %v but there is no %v file in the repo",
			constants.CourseRootSeparator, pkg.Name, rootFile)
	}
	_, err = runner.Sudo(ctx, "rm -f course.xml && "+shellquote.Join("ln", "-s", rootFile, "course.xml"),
		remote.Dir(pkg.Root))
	return trace.Wrap(err)
}

// writeFact tells the provisioning system the service of pkg is installed
func (r *applier) writeFact(ctx context.Context, runner remote.Runner, pkg packages.Descriptor) error {
	if !r.Registry.IsServiceRepo(pkg.Repo.Name) {
		return nil
	}
	// facts cannot have dashes
	fact := strings.Replace(pkg.Repo.Name, "-", "_", -1) + "_installed"
	_, err := runner.Sudo(ctx, fmt.Sprintf("echo %v > %v",
		shellquote.Join(fact+"=true"), shellquote.Join(fact+".txt")),
		remote.Dir(defaults.FactsDir))
	return trace.Wrap(err)
}

// checkMigrations runs the migration check once per deploy if the plan
// includes the migrate package of the registry
func (r *applier) checkMigrations(ctx context.Context, runner remote.Runner) (err error) {
	if r.Migrations == nil || r.Registry.MigratePackage == "" || !r.plan.Includes(r.Registry.MigratePackage) {
		return nil
	}
	r.migrateOnce.Do(func() {
		_, err = r.Migrations.Check(ctx, runner)
	})
	return trace.Wrap(err)
}

// runCommands runs the pre or post checkout commands
func (r *applier) runCommands(ctx context.Context, runner remote.Runner, commands []string) error {
	for _, command := range commands {
		_, err := runner.Sudo(ctx, command, remote.Env(constants.EnvGitSSH, defaults.GitSSHWrapper))
		if err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// git runs the git commands in dir
func (r *applier) git(ctx context.Context, runner remote.Runner, dir string, commands ...string) error {
	for _, command := range commands {
		_, err := runner.Sudo(ctx, command,
			remote.Dir(dir), remote.Env(constants.EnvGitSSH, defaults.GitSSHWrapper))
		if err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

func (r *applier) step(tags metrics.Tags, step string, fn func() error) error {
	return metrics.Time(r.Metrics, constants.MetricDeployment,
		tags.Merge(metrics.Tags{constants.TagStep: step}), fn)
}
