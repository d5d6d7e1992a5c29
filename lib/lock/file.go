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

package lock

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/rolldeploy/lib/defaults"
	"github.com/gravitational/rolldeploy/lib/remote"

	"github.com/gravitational/trace"
	shellquote "github.com/kballard/go-shellquote"
)

// NewFileBackend returns a backend that keeps the lock record in a file
// on every host
func NewFileBackend(connector remote.Connector) *FileBackend {
	return &FileBackend{
		connector: connector,
		path:      defaults.LockFile,
	}
}

// FileBackend keeps lock records in a well-known file on the hosts
type FileBackend struct {
	connector remote.Connector
	path      string
}

// TryAcquire stamps the lock file on host with holder if it is absent,
// empty or already stamped with holder. The check and the write run in
// a single remote script under flock(1) on a guard file, so concurrent
// deployers cannot both acquire the lock
func (r *FileBackend) TryAcquire(ctx context.Context, host, holder string) (*Status, error) {
	runner, err := r.connector.Connect(ctx, host)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out, err := runner.Sudo(ctx, acquireScript(r.path, holder))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	current, modified, err := parseRecord(out)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if current != "" {
		return &Status{Holder: current, Modified: modified}, nil
	}
	return &Status{Acquired: true, Holder: holder}, nil
}

// acquireScript returns the test-and-set command for the lock file at path.
// It prints the current record prefixed with lockedMarker only if another
// holder owns the lock
func acquireScript(path, holder string) string {
	file := shellquote.Join(path)
	return fmt.Sprintf("mkdir -p %v && (flock -x 9 && "+
		"if [ -s %v ] && [ \"$(head -n 1 %v)\" != %v ]; "+
		"then echo %v; head -n 1 %v; stat -c %%Y %v; "+
		"else echo %v > %v; fi) 9>%v",
		shellquote.Join(filepath.Dir(path)),
		file, file, shellquote.Join(holder),
		lockedMarker, file, file,
		shellquote.Join(holder), file,
		shellquote.Join(path+".guard"))
}

// lockedMarker precedes the record of a lock held by another holder
const lockedMarker = "locked"

// Release removes the lock file on host
func (r *FileBackend) Release(ctx context.Context, host string) error {
	runner, err := r.connector.Connect(ctx, host)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = runner.Sudo(ctx, "rm -f "+shellquote.Join(r.path))
	return trace.Wrap(err)
}

// parseRecord parses the holder record and modification time printed
// by the acquire script when the lock is held by another holder.
// Empty holder means the lock has been acquired
func parseRecord(out string) (holder string, modified time.Time, err error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if strings.TrimSpace(lines[0]) != lockedMarker {
		return "", time.Time{}, nil
	}
	if len(lines) != 3 {
		return "", time.Time{}, trace.BadParameter("unexpected lock record %q", out)
	}
	seconds, err := strconv.ParseInt(strings.TrimSpace(lines[2]), 10, 64)
	if err != nil {
		return "", time.Time{}, trace.BadParameter("unexpected lock modification time %q", lines[2])
	}
	holder = strings.TrimSpace(lines[1])
	if holder == "" {
		holder = "unknown"
	}
	return holder, time.Unix(seconds, 0), nil
}
