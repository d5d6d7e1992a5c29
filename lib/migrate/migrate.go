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

// Package migrate checks a host for pending database migrations
// and applies them
package migrate

import (
	"context"
	"strings"

	"github.com/gravitational/rolldeploy/lib/constants"
	"github.com/gravitational/rolldeploy/lib/defaults"
	"github.com/gravitational/rolldeploy/lib/remote"
	"github.com/gravitational/rolldeploy/lib/utils"

	"github.com/fatih/color"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// Confirmer asks the operator a yes/no question
type Confirmer interface {
	// Confirm returns true if the operator agreed
	Confirm(title string, defaultYes bool) (bool, error)
}

// Config is the migration check configuration
type Config struct {
	// Command applies the migrations
	Command string
	// Auto applies pending migrations without asking
	Auto bool
	// Confirmer asks whether to apply pending migrations
	Confirmer Confirmer
	// Progress narrates the check to the operator
	Progress utils.Progress
	// FieldLogger is the logger
	logrus.FieldLogger
}

// CheckAndSetDefaults validates the configuration and sets defaults
func (r *Config) CheckAndSetDefaults() error {
	if r.Command == "" {
		r.Command = defaults.MigrateCommand
	}
	if !r.Auto && r.Confirmer == nil {
		return trace.BadParameter("missing Confirmer")
	}
	if r.Progress == nil {
		r.Progress = utils.DiscardProgress
	}
	if r.FieldLogger == nil {
		r.FieldLogger = logrus.WithField(trace.Component, constants.ComponentMigrate)
	}
	return nil
}

// New returns a new migration checker
func New(config Config) (*Checker, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Checker{Config: config}, nil
}

// Checker looks for pending migrations with a dry run of the migration command
type Checker struct {
	Config
}

// Check runs the migration dry run on the host of runner and applies
// the migrations if any are pending and the operator agrees.
// Returns true if the migrations have been applied
func (r *Checker) Check(ctx context.Context, runner remote.Runner) (applied bool, err error) {
	opts := []remote.Option{
		remote.AsUser(defaults.MigrateUser),
		remote.Env(constants.EnvServiceVariant, defaults.MigrateServiceVariant),
	}
	out, err := runner.Sudo(ctx, r.Command+" "+defaults.MigrateDryRunFlag,
		append(opts, remote.ReadOnly())...)
	if err != nil {
		return false, trace.Wrap(err, "failed to check for migrations on %v", runner.Host())
	}
	pending := Pending(out)
	if len(pending) == 0 {
		r.WithField(constants.FieldHost, runner.Host()).Info("No pending migrations.")
		return false, nil
	}
	for _, chunk := range pending {
		r.Progress.Print("!!! Found Migration !!!\n%v", chunk)
	}
	if !r.Auto {
		ok, err := r.Confirmer.Confirm(color.GreenString(r.Command)+"\nRun migrations?", true)
		if err != nil {
			return false, trace.Wrap(err)
		}
		if !ok {
			r.Progress.PrintWarn(nil, "Skipped pending migrations.")
			return false, nil
		}
	}
	r.Progress.NextStep("Running migrations on %v", runner.Host())
	if _, err := runner.Sudo(ctx, r.Command, opts...); err != nil {
		return false, trace.Wrap(err, "failed to run migrations on %v", runner.Host())
	}
	return true, nil
}

// Pending returns the parts of the dry run output describing applications
// with pending migrations
func Pending(out string) (pending []string) {
	for _, chunk := range strings.Split(out, migrationsMarker) {
		if strings.Contains(chunk, pendingMarker) {
			pending = append(pending, chunk)
		}
	}
	return pending
}

const (
	// migrationsMarker starts the dry run output of every application
	migrationsMarker = "Running migrations for "
	// pendingMarker is present in the output of an application with pending migrations
	pendingMarker = "Migrating"
)
