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
	"gopkg.in/check.v1"
)

type StringsSuite struct{}

var _ = check.Suite(&StringsSuite{})

func (s *StringsSuite) TestStringInSlice(c *check.C) {
	c.Assert(StringInSlice([]string{"edxapp", "xserver"}, "xserver"), check.Equals, true)
	c.Assert(StringInSlice([]string{"edxapp"}, "edx"), check.Equals, false)
	c.Assert(StringInSlice(nil, ""), check.Equals, false)
}

func (s *StringsSuite) TestHasOneOfPrefixes(c *check.C) {
	c.Assert(HasOneOfPrefixes("content-mit-6002x", "edx", "content-"), check.Equals, true)
	c.Assert(HasOneOfPrefixes("xserver", "edx", "content-"), check.Equals, false)
	c.Assert(HasOneOfPrefixes("xserver"), check.Equals, false)
}
