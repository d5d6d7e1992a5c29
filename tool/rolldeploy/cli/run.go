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

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gravitational/rolldeploy/lib/constants"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField(trace.Component, constants.ComponentCLI)

// Run parses CLI arguments and executes an appropriate rolldeploy command
func Run(app Application) (err error) {
	cmd, err := app.Parse(os.Args[1:])
	if err != nil {
		return trace.Wrap(err)
	}

	trace.SetDebug(*app.Debug)
	logrus.SetFormatter(&trace.TextFormatter{})
	if *app.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}
	log.Debugf("Executing: %v.", os.Args)

	if cmd == app.VersionCmd.FullCommand() {
		return printVersion(os.Stdout, *app.VersionCmd.Output)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		select {
		case sig := <-signals:
			log.Infof("Received %v, cancelling.", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	env, err := newEnvironment(app, cmd)
	if err != nil {
		return trace.Wrap(err)
	}
	defer func() {
		if errClose := env.Close(); errClose != nil {
			log.WithError(errClose).Warn("Failed to close environment.")
		}
	}()

	switch cmd {
	case app.DeployCmd.FullCommand():
		err = deployPackages(ctx, env, deployConfig{
			source:           app.DeployCmd.PackageSource,
			assumeYes:        *app.DeployCmd.Yes,
			autoMigrate:      *app.DeployCmd.AutoMigrate,
			skipLoadBalancer: *app.DeployCmd.SkipLoadBalancer,
		})
	case app.ConfirmCmd.FullCommand():
		err = confirmPackages(ctx, env, deployConfig{
			source:           app.ConfirmCmd.PackageSource,
			skipLoadBalancer: true,
		})
	case app.LocksWaitCmd.FullCommand():
		err = waitForLocks(ctx, env)
	case app.LocksRemoveCmd.FullCommand():
		err = removeLocks(ctx, env)
	case app.PackagesInstalledCmd.FullCommand():
		err = listInstalled(ctx, env, *app.PackagesInstalledCmd.Prefixes)
	case app.PackagesActionsCmd.FullCommand():
		err = printActions(env, *app.PackagesActionsCmd.Names)
	case app.HostsCmd.FullCommand():
		err = listHosts(ctx, env)
	default:
		err = trace.NotImplemented("unsupported command: %v", cmd)
	}
	return trace.Wrap(err)
}
