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

package main

import (
	"fmt"
	stdlog "log"
	"os"

	"github.com/gravitational/rolldeploy/lib/deploy"
	"github.com/gravitational/rolldeploy/tool/common"
	"github.com/gravitational/rolldeploy/tool/rolldeploy/cli"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

func main() {
	stdlog.SetOutput(log.StandardLogger().Writer())
	app := kingpin.New("rolldeploy", "Rolling deploys of git packages to hosts behind load balancers.")
	if err := run(app); err != nil {
		if deploy.IsAborted(err) {
			fmt.Println(trace.UserMessage(err))
			os.Exit(1)
		}
		log.Error(trace.DebugReport(err))
		common.PrintError(err)
		os.Exit(255)
	}
}

func run(app *kingpin.Application) error {
	rolldeploy := cli.RegisterCommands(app)
	return common.ProcessRunError(cli.Run(rolldeploy))
}
