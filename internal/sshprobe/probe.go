// Package sshprobe checks that a hop chain is reachable and that the
// credentials of every hop are accepted. Each hop after the first is dialed
// through the SSH connection of the previous one.
package sshprobe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"evalgo.org/kiwi/internal/config"
	"evalgo.org/kiwi/internal/logging"
	"evalgo.org/kiwi/models"
)

// DefaultTimeout bounds each hop when Options.Timeout is unset.
const DefaultTimeout = 10 * time.Second

// Options controls host key checking and timeouts.
type Options struct {
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
	Timeout               time.Duration
}

// OptionsFromConfig builds probe options from the ssh config section.
func OptionsFromConfig(c config.SSHConfig) Options {
	return Options{
		KnownHostsFile:        c.KnownHostsPath(),
		InsecureIgnoreHostKey: c.InsecureIgnoreHostKey,
		Timeout:               c.ConnectTimeout,
	}
}

// HopResult is the outcome for one hop.
type HopResult struct {
	Index         int    `json:"index" yaml:"index"`
	Address       string `json:"address" yaml:"address"`
	Username      string `json:"username" yaml:"username"`
	Reachable     bool   `json:"reachable" yaml:"reachable"`
	Authenticated bool   `json:"authenticated" yaml:"authenticated"`
	Error         string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report lists one result per probed hop. Probing stops at the first
// failing hop, so later hops are reported as not reached.
type Report struct {
	Hops []HopResult `json:"hops" yaml:"hops"`
	OK   bool        `json:"ok" yaml:"ok"`
}

// Failed returns the first failing hop, if any.
func (r *Report) Failed() (HopResult, bool) {
	for _, h := range r.Hops {
		if !h.Authenticated {
			return h, true
		}
	}
	return HopResult{}, false
}

// dialTCP opens the connection to the first hop. Tests replace it.
var dialTCP = func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}

// Probe walks the chain. Only a bad option or an empty chain is returned as
// an error; per-hop failures are part of the report.
func Probe(ctx context.Context, hops []models.Hop, opts Options) (*Report, error) {
	if len(hops) == 0 {
		return nil, errors.New("hop chain is empty")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	hostKeys, err := hostKeyCallback(opts)
	if err != nil {
		return nil, err
	}

	report := &Report{Hops: make([]HopResult, len(hops))}
	for i, h := range hops {
		report.Hops[i] = HopResult{Index: i, Address: h.Address(), Username: h.Username}
	}

	var clients []*ssh.Client
	defer func() {
		for i := len(clients) - 1; i >= 0; i-- {
			_ = clients[i].Close()
		}
	}()

	for i, h := range hops {
		res := &report.Hops[i]
		if !h.Complete() {
			res.Error = "missing username or password"
			break
		}

		var prev *ssh.Client
		if i > 0 {
			prev = clients[i-1]
		}
		conn, err := dialHop(ctx, prev, res.Address, opts.Timeout)
		if err != nil {
			res.Error = err.Error()
			logging.Debugf("sshprobe: hop %d (%s) unreachable: %v", i, res.Address, err)
			break
		}
		res.Reachable = true

		client, err := handshake(ctx, conn, h, hostKeys, opts.Timeout)
		if err != nil {
			res.Error = err.Error()
			logging.Debugf("sshprobe: hop %d (%s) handshake failed: %v", i, res.Address, err)
			break
		}
		res.Authenticated = true
		clients = append(clients, client)
	}

	report.OK = len(clients) == len(hops)
	return report, nil
}

func hostKeyCallback(opts Options) (ssh.HostKeyCallback, error) {
	if opts.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if opts.KnownHostsFile == "" {
		return nil, errors.New("known_hosts file is required unless host key checking is disabled")
	}
	cb, err := knownhosts.New(opts.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s: %w", opts.KnownHostsFile, err)
	}
	return cb, nil
}

func dialHop(ctx context.Context, prev *ssh.Client, addr string, timeout time.Duration) (net.Conn, error) {
	if prev == nil {
		return dialTCP(ctx, addr, timeout)
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := prev.Dial("tcp", addr)
		ch <- result{c, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("dial %s: timed out after %s", addr, timeout)
	}
}

func handshake(ctx context.Context, conn net.Conn, h models.Hop, hostKeys ssh.HostKeyCallback, timeout time.Duration) (*ssh.Client, error) {
	password := h.Password
	cfg := &ssh.ClientConfig{
		User: h.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}

	// Tunnelled connections ignore deadlines, so the context closes them instead.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	addr := h.Address()
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}
