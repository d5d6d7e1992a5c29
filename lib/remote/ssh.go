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

package remote

import (
	"bytes"
	"context"
	"io/ioutil"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/rolldeploy/lib/constants"
	"github.com/gravitational/rolldeploy/lib/defaults"
	"github.com/gravitational/rolldeploy/lib/utils"

	"github.com/gravitational/trace"
	shellquote "github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig configures SSH connections to managed hosts
type SSHConfig struct {
	// User is the login user
	User string
	// Port is the SSH port
	Port int
	// IdentityFile is an optional path to the private key
	IdentityFile string
	// KnownHostsFile is an optional path to the known hosts file.
	// Host keys are not verified if unset
	KnownHostsFile string
	// DialTimeout limits the time to establish a connection
	DialTimeout time.Duration
	// FieldLogger is the logger
	logrus.FieldLogger
}

// CheckAndSetDefaults validates the config and sets default values
func (c *SSHConfig) CheckAndSetDefaults() error {
	if c.User == "" {
		return trace.BadParameter("missing SSH user")
	}
	if c.Port == 0 {
		c.Port = defaults.SSHPort
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaults.SSHDialTimeout
	}
	if c.FieldLogger == nil {
		c.FieldLogger = logrus.WithField(trace.Component, constants.ComponentRemote)
	}
	return nil
}

// NewSSHConnector returns a connector that dials hosts over SSH
func NewSSHConnector(config SSHConfig) (*SSHConnector, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	auth, err := authMethods(config)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if config.KnownHostsFile != "" {
		hostKeyCallback, err = knownhosts.New(config.KnownHostsFile)
		if err != nil {
			return nil, trace.ConvertSystemError(err)
		}
	} else {
		config.Warn("Host keys will not be verified, pass known hosts file to enable verification.")
	}
	return &SSHConnector{
		SSHConfig: config,
		clientConfig: &ssh.ClientConfig{
			User:            config.User,
			Auth:            auth,
			HostKeyCallback: hostKeyCallback,
			Timeout:         config.DialTimeout,
		},
	}, nil
}

// SSHConnector dials hosts over SSH
type SSHConnector struct {
	SSHConfig
	clientConfig *ssh.ClientConfig
}

// Connect dials the specified host
func (r *SSHConnector) Connect(ctx context.Context, host string) (Runner, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(r.Port))
	dialer := net.Dialer{Timeout: r.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, r.clientConfig)
	if err != nil {
		conn.Close()
		return nil, trace.Wrap(err, "failed to connect to %v", addr)
	}
	r.WithField(constants.FieldHost, host).Debug("Connected.")
	return &sshRunner{
		host:        host,
		client:      ssh.NewClient(sshConn, chans, reqs),
		FieldLogger: r.WithField(constants.FieldHost, host),
	}, nil
}

func authMethods(config SSHConfig) (methods []ssh.AuthMethod, err error) {
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			config.WithError(err).Warn("Failed to connect to SSH agent.")
		} else {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	if config.IdentityFile != "" {
		keyBytes, err := ioutil.ReadFile(config.IdentityFile)
		if err != nil {
			return nil, trace.ConvertSystemError(err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, trace.Wrap(err, "failed to parse %v", config.IdentityFile)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if len(methods) == 0 {
		return nil, trace.BadParameter("no SSH credentials: start an SSH agent or pass an identity file")
	}
	return methods, nil
}

type sshRunner struct {
	host   string
	client *ssh.Client
	logrus.FieldLogger
}

// Host returns the address of the host
func (r *sshRunner) Host() string {
	return r.host
}

// Run executes the command as the login user
func (r *sshRunner) Run(ctx context.Context, command string, opts ...Option) (string, error) {
	return r.exec(ctx, command, false, ApplyOptions(opts...))
}

// Sudo executes the command as a privileged user
func (r *sshRunner) Sudo(ctx context.Context, command string, opts ...Option) (string, error) {
	return r.exec(ctx, command, true, ApplyOptions(opts...))
}

// Put uploads data to path on the host
func (r *sshRunner) Put(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	command := "cat > " + shellquote.Join(path) +
		" && chmod " + strconv.FormatUint(uint64(mode.Perm()), 8) + " " + shellquote.Join(path)
	_, err := r.exec(ctx, command, true, Options{Stdin: bytes.NewReader(data)})
	return trace.Wrap(err)
}

// Close closes the SSH connection
func (r *sshRunner) Close() error {
	return r.client.Close()
}

func (r *sshRunner) exec(ctx context.Context, command string, sudo bool, o Options) (string, error) {
	var out string
	result, err := utils.SSHRunAndParse(ctx, r.client, r.FieldLogger,
		ShellCommand(command, sudo, o), nil, o.Stdin, utils.ParseAsString(&out))
	if _, ok := err.(*ssh.ExitError); ok {
		return "", &ExitError{
			Host:    r.host,
			Command: command,
			Status:  result.ExitStatus,
			Output:  strings.TrimSpace(out + "\n" + result.Stderr),
		}
	}
	if err != nil {
		return "", trace.Wrap(err)
	}
	return strings.TrimSpace(out), nil
}
