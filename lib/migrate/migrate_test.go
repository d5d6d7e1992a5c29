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

package migrate

import (
	"context"
	"testing"

	"github.com/gravitational/rolldeploy/lib/constants"
	"github.com/gravitational/rolldeploy/lib/defaults"
	"github.com/gravitational/rolldeploy/lib/remote"
	"github.com/gravitational/rolldeploy/lib/remote/remotetest"

	"gopkg.in/check.v1"
)

func TestMigrate(t *testing.T) { check.TestingT(t) }

type MigrateSuite struct{}

var _ = check.Suite(&MigrateSuite{})

const dryRunPending = `Running migrations for courseware:
- Nothing to migrate.
Running migrations for student:
 - Migrating forwards to 0042_add_profile.
 > student:0042_add_profile
Running migrations for django_comment_client:
- Nothing to migrate.`

const dryRunClean = `Running migrations for courseware:
- Nothing to migrate.
Running migrations for student:
- Nothing to migrate.`

type answer bool

func (r answer) Confirm(string, bool) (bool, error) { return bool(r), nil }

func (s *MigrateSuite) TestPending(c *check.C) {
	pending := Pending(dryRunPending)
	c.Assert(pending, check.HasLen, 1)
	c.Assert(pending[0], check.Matches, "(?s)student:.*Migrating forwards.*")
	c.Assert(Pending(dryRunClean), check.HasLen, 0)
}

func (s *MigrateSuite) TestNothingPending(c *check.C) {
	runner := remotetest.New("web-1").OnOutput(defaults.MigrateDryRunFlag, dryRunClean)
	checker, err := New(Config{Confirmer: answer(true)})
	c.Assert(err, check.IsNil)

	applied, err := checker.Check(context.TODO(), runner)
	c.Assert(err, check.IsNil)
	c.Assert(applied, check.Equals, false)
	c.Assert(runner.Mutations(), check.HasLen, 0)

	call := runner.Calls()[0]
	c.Assert(call.Options.User, check.Equals, defaults.MigrateUser)
	c.Assert(call.Options.Env, check.DeepEquals, map[string]string{
		constants.EnvServiceVariant: defaults.MigrateServiceVariant,
	})
}

func (s *MigrateSuite) TestAppliesWhenConfirmed(c *check.C) {
	runner := remotetest.New("web-1").OnOutput(defaults.MigrateDryRunFlag, dryRunPending)
	checker, err := New(Config{Command: "migrate", Confirmer: answer(true)})
	c.Assert(err, check.IsNil)

	applied, err := checker.Check(context.TODO(), runner)
	c.Assert(err, check.IsNil)
	c.Assert(applied, check.Equals, true)
	c.Assert(runner.Mutations(), check.DeepEquals, []string{"migrate"})
}

func (s *MigrateSuite) TestSkipsWhenDeclined(c *check.C) {
	runner := remotetest.New("web-1").OnOutput(defaults.MigrateDryRunFlag, dryRunPending)
	checker, err := New(Config{Command: "migrate", Confirmer: answer(false)})
	c.Assert(err, check.IsNil)

	applied, err := checker.Check(context.TODO(), runner)
	c.Assert(err, check.IsNil)
	c.Assert(applied, check.Equals, false)
	c.Assert(runner.Mutations(), check.HasLen, 0)
}

func (s *MigrateSuite) TestAutoMigrate(c *check.C) {
	runner := remotetest.New("web-1").OnOutput(defaults.MigrateDryRunFlag, dryRunPending)
	checker, err := New(Config{Command: "migrate", Auto: true})
	c.Assert(err, check.IsNil)

	applied, err := checker.Check(context.TODO(), runner)
	c.Assert(err, check.IsNil)
	c.Assert(applied, check.Equals, true)
}

func (s *MigrateSuite) TestDryRunFailure(c *check.C) {
	runner := remotetest.New("web-1").OnExit(defaults.MigrateDryRunFlag, 2)
	checker, err := New(Config{Confirmer: answer(true)})
	c.Assert(err, check.IsNil)

	_, err = checker.Check(context.TODO(), runner)
	c.Assert(err, check.NotNil)
	c.Assert(remote.ExitStatus(err), check.Equals, 2)
}
