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

// Package packages resolves deployable packages to their git repositories
// and the commands to run around their checkout
package packages

import (
	"io/ioutil"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/gravitational/rolldeploy/lib/constants"
	"github.com/gravitational/rolldeploy/lib/defaults"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v2"
)

// Repo identifies a github repository
type Repo struct {
	// Org is the github organization
	Org string
	// Name is the repository name
	Name string
}

// String returns the repository as org/name
func (r Repo) String() string {
	return r.Org + "/" + r.Name
}

// Actions lists the commands to run around the checkout of a set of packages
type Actions struct {
	// Pre lists the commands to run before any package is checked out
	Pre []string
	// Post lists the commands to run after all packages are checked out
	Post []string
}

// IsEmpty returns true if there are no commands to run
func (r Actions) IsEmpty() bool {
	return len(r.Pre) == 0 && len(r.Post) == 0
}

// Registry is the catalog of known packages
type Registry struct {
	repoDirs     map[string]Repo
	rules        map[string][]rule
	serviceRepos map[string]bool
	// MigratePackage is the core application package whose deployment
	// triggers the migration check
	MigratePackage string
	// MigrateCommand is the command applying database migrations
	MigrateCommand string
}

type rule struct {
	pattern   *regexp.Regexp
	templates []*commandTemplate
}

// registryConfig is the registry file schema
type registryConfig struct {
	RepoDirs          map[string]string `yaml:"repo_dirs"`
	PreCheckoutRegex  []ruleConfig      `yaml:"pre_checkout_regex"`
	PostCheckoutRegex []ruleConfig      `yaml:"post_checkout_regex"`
	ServiceRepos      []string          `yaml:"service_repos"`
	MigratePackage    string            `yaml:"migrate_package"`
	MigrateCommand    string            `yaml:"migrate_command"`
}

// ruleConfig is a [pattern, [templates...]] pair
type ruleConfig struct {
	Pattern   string
	Templates []string
}

// UnmarshalYAML reads the rule from a two element list
func (r *ruleConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var pair []interface{}
	if err := unmarshal(&pair); err != nil {
		return trace.Wrap(err)
	}
	if len(pair) != 2 {
		return trace.BadParameter("expected [pattern, [commands...]], got %v", pair)
	}
	pattern, ok := pair[0].(string)
	if !ok {
		return trace.BadParameter("expected pattern string, got %v", pair[0])
	}
	templates, ok := pair[1].([]interface{})
	if !ok {
		return trace.BadParameter("expected list of commands for %q, got %v", pattern, pair[1])
	}
	r.Pattern = pattern
	for _, template := range templates {
		command, ok := template.(string)
		if !ok {
			return trace.BadParameter("expected command string for %q, got %v", pattern, template)
		}
		r.Templates = append(r.Templates, command)
	}
	return nil
}

// Load reads the registry from the file at path
func Load(path string) (*Registry, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	registry, err := Parse(data)
	if err != nil {
		return nil, trace.Wrap(err, "invalid package registry %v", path)
	}
	return registry, nil
}

// Parse parses the registry from YAML data.
// Every command placeholder is validated against the capture groups of its pattern
func Parse(data []byte) (*Registry, error) {
	var config registryConfig
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return nil, trace.Wrap(err)
	}
	registry := &Registry{
		repoDirs:       make(map[string]Repo),
		rules:          make(map[string][]rule),
		serviceRepos:   make(map[string]bool),
		MigratePackage: config.MigratePackage,
		MigrateCommand: config.MigrateCommand,
	}
	for dir, repo := range config.RepoDirs {
		parts := strings.Split(repo, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, trace.BadParameter("expected org/repo for %v, got %q", dir, repo)
		}
		if !path.IsAbs(dir) {
			return nil, trace.BadParameter("repository directory %q is not absolute", dir)
		}
		registry.repoDirs[path.Clean(dir)] = Repo{Org: parts[0], Name: parts[1]}
	}
	for stage, configs := range map[string][]ruleConfig{
		constants.StagePre:  config.PreCheckoutRegex,
		constants.StagePost: config.PostCheckoutRegex,
	} {
		for _, rc := range configs {
			rule, err := newRule(rc)
			if err != nil {
				return nil, trace.Wrap(err, "invalid %v-checkout rule", stage)
			}
			registry.rules[stage] = append(registry.rules[stage], *rule)
		}
	}
	for _, repo := range config.ServiceRepos {
		registry.serviceRepos[repo] = true
	}
	if registry.MigrateCommand == "" {
		registry.MigrateCommand = defaults.MigrateCommand
	}
	return registry, nil
}

func newRule(config ruleConfig) (*rule, error) {
	// patterns match at the start of the package name
	pattern, err := regexp.Compile("^(?:" + config.Pattern + ")")
	if err != nil {
		return nil, trace.BadParameter("invalid pattern %q: %v", config.Pattern, err)
	}
	rule := &rule{pattern: pattern}
	for _, raw := range config.Templates {
		template, err := parseTemplate(raw)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if err := template.checkPattern(pattern); err != nil {
			return nil, trace.Wrap(err)
		}
		rule.templates = append(rule.templates, template)
	}
	return rule, nil
}

// Lookup returns the directory and repository of the package name.
// Exactly one repository directory must have name as its base name
func (r *Registry) Lookup(name string) (dir string, repo Repo, err error) {
	var matches []string
	for candidate := range r.repoDirs {
		if path.Base(candidate) == name {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 0:
		return "", Repo{}, trace.NotFound("no repository directory found for package %q", name)
	case 1:
		return matches[0], r.repoDirs[matches[0]], nil
	default:
		sort.Strings(matches)
		return "", Repo{}, trace.BadParameter("multiple repository directories found for package %q: %v",
			name, strings.Join(matches, ", "))
	}
}

// OrgFromName returns the github organization of the package name
func (r *Registry) OrgFromName(name string) (string, error) {
	_, repo, err := r.Lookup(name)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return repo.Org, nil
}

// RepoFromName returns the github repository of the package name
func (r *Registry) RepoFromName(name string) (string, error) {
	_, repo, err := r.Lookup(name)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return repo.Name, nil
}

// RepoDirs returns the known repository directories in sorted order
func (r *Registry) RepoDirs() []string {
	dirs := make([]string, 0, len(r.repoDirs))
	for dir := range r.repoDirs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// IsServiceRepo returns true if installing the repository is announced
// to the provisioning system
func (r *Registry) IsServiceRepo(repo string) bool {
	return r.serviceRepos[repo]
}

// PrePostActions returns the commands to run before and after checking out
// the named packages. Rules are applied in declared order and every
// command is listed once, at the position of its first occurrence
func (r *Registry) PrePostActions(names []string) Actions {
	return Actions{
		Pre:  r.actions(constants.StagePre, names),
		Post: r.actions(constants.StagePost, names),
	}
}

func (r *Registry) actions(stage string, names []string) []string {
	var commands []string
	seen := make(map[string]bool)
	for _, rule := range r.rules[stage] {
		for _, name := range names {
			match := rule.pattern.FindStringSubmatch(name)
			if match == nil {
				continue
			}
			for _, template := range rule.templates {
				command := template.format(rule.pattern, match)
				if seen[command] {
					continue
				}
				seen[command] = true
				commands = append(commands, command)
			}
		}
	}
	return commands
}
