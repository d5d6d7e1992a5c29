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

package packages

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/gravitational/rolldeploy/lib/defaults"
	"github.com/gravitational/rolldeploy/lib/remote"

	"github.com/gravitational/trace"
	shellquote "github.com/kballard/go-shellquote"
	"golang.org/x/sync/errgroup"
)

// InstalledPackages returns the packages installed on the host of runner.
// A repository directory without a .git directory is not installed
func (r *Registry) InstalledPackages(ctx context.Context, runner remote.Runner) ([]Descriptor, error) {
	dirs := r.RepoDirs()
	if len(dirs) == 0 {
		return nil, nil
	}
	script := fmt.Sprintf(`for path in %v; do
    if [ -d "$path/.git" ]; then
        echo "$path" $(cd "$path" && git rev-parse HEAD 2>/dev/null)
    fi
done`, shellquote.Join(dirs...))
	out, err := runner.Sudo(ctx, script, remote.ReadOnly())
	if err != nil {
		return nil, trace.Wrap(err, "failed to list installed packages on %v", runner.Host())
	}
	return r.parseInstalled(out)
}

func (r *Registry) parseInstalled(out string) ([]Descriptor, error) {
	var installed []Descriptor
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		pkg, err := r.NewDescriptor(path.Base(fields[0]), fields[1])
		if err != nil {
			return nil, trace.Wrap(err)
		}
		installed = append(installed, *pkg)
	}
	SortByName(installed)
	return installed, nil
}

// InstalledOnHosts collects the packages installed on every host in parallel.
// Returns the installed packages by host
func (r *Registry) InstalledOnHosts(ctx context.Context, connector remote.Connector, hosts []string) (map[string][]Descriptor, error) {
	var mu sync.Mutex
	result := make(map[string][]Descriptor, len(hosts))
	sem := make(chan struct{}, defaults.InventoryConcurrency)
	group, ctx := errgroup.WithContext(ctx)
	for _, host := range hosts {
		host := host
		group.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return trace.Wrap(ctx.Err())
			}
			defer func() { <-sem }()
			runner, err := connector.Connect(ctx, host)
			if err != nil {
				return trace.Wrap(err)
			}
			installed, err := r.InstalledPackages(ctx, runner)
			if err != nil {
				return trace.Wrap(err)
			}
			mu.Lock()
			result[host] = installed
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, trace.Wrap(err)
	}
	return result, nil
}
