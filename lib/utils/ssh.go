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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"sort"
	"strings"

	"github.com/gravitational/rolldeploy/lib/constants"

	"github.com/gravitational/trace"
	shellquote "github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// OutputParseFn defines a parser function for arbitrary input r
type OutputParseFn func(r *bufio.Reader) error

// ExitStatusUndefined is the exit status of a command that did not run to completion
const ExitStatusUndefined = -1

// SSHResult describes a completed remote command
type SSHResult struct {
	// ExitStatus is the exit status of the command or ExitStatusUndefined
	ExitStatus int
	// Stderr is the captured standard error of the command
	Stderr string
}

// SSHRunAndParse runs remote SSH command with environment variables set by env.
// stdin, if not nil, is fed to the command; stdout is passed to parse.
// A non-zero exit status is returned as *ssh.ExitError together with the result
func SSHRunAndParse(ctx context.Context, client *ssh.Client, log logrus.FieldLogger, cmd string, env map[string]string, stdin io.Reader, parse OutputParseFn) (*SSHResult, error) {
	result := &SSHResult{ExitStatus: ExitStatusUndefined}
	session, err := client.NewSession()
	if err != nil {
		return result, trace.Wrap(err)
	}
	defer session.Close()

	if stdin == nil {
		stdin = new(bytes.Buffer)
	}
	session.Stdin = stdin
	var stderr bytes.Buffer
	session.Stderr = &stderr

	stdout, err := session.StdoutPipe()
	if err != nil {
		return result, trace.Wrap(err)
	}
	if parse == nil {
		parse = ParseDiscard
	}

	log = log.WithField(constants.FieldCommand, cmd)
	errCh := make(chan error, 2)
	go func() {
		err := parse(bufio.NewReader(
			&readLogger{log.WithField(constants.FieldStream, "stdout"), stdout}))
		errCh <- trace.Wrap(err)
	}()
	go func() {
		log.Debug("Run.")
		errCh <- session.Run(envPrefix(env) + cmd)
	}()

	var runErr error
	for i := 0; i < cap(errCh); i++ {
		select {
		case <-ctx.Done():
			session.Signal(ssh.SIGTERM)
			log.WithError(ctx.Err()).Debug("Context terminated, sent SIGTERM.")
			return result, trace.Wrap(ctx.Err())
		case err := <-errCh:
			if err != nil && runErr == nil {
				runErr = err
			}
		}
	}
	result.Stderr = stderr.String()
	for _, line := range strings.Split(strings.TrimSpace(result.Stderr), "\n") {
		if line != "" {
			log.WithField(constants.FieldStream, "stderr").Debug(line)
		}
	}
	if exitErr, ok := runErr.(*ssh.ExitError); ok {
		result.ExitStatus = exitErr.ExitStatus()
		return result, exitErr
	}
	if runErr != nil {
		log.WithError(runErr).Debug("Unexpected error.")
		return result, trace.Wrap(runErr)
	}
	result.ExitStatus = 0
	return result, nil
}

func envPrefix(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var vars []string
	for _, k := range keys {
		vars = append(vars, fmt.Sprintf("%s=%s", k, shellquote.Join(env[k])))
	}
	return strings.Join(vars, " ") + " "
}

// ParseDiscard returns a no-op parser function that discards the input
func ParseDiscard(r *bufio.Reader) error {
	io.Copy(ioutil.Discard, r)
	return nil
}

// ParseAsString returns a parser function that extracts the stream contents
// as a string
func ParseAsString(out *string) OutputParseFn {
	return func(r *bufio.Reader) error {
		b, err := ioutil.ReadAll(r)
		if err != nil {
			return trace.Wrap(err)
		}
		*out = string(b)
		return nil
	}
}

type readLogger struct {
	log logrus.FieldLogger
	r   io.Reader
}

func (l *readLogger) Read(p []byte) (n int, err error) {
	n, err = l.r.Read(p)
	if err != nil && err != io.EOF {
		l.log.WithError(err).Debug("Unexpected I/O error.")
	} else if n > 0 {
		l.log.Debug(string(p[0:n]))
	}
	return n, err
}
