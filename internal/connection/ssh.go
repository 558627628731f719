package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gxo-labs/converge/internal/retry"
	"github.com/gxo-labs/converge/internal/util"
	"github.com/gxo-labs/converge/pkg/converge/v1/connection"
	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	convergelog "github.com/gxo-labs/converge/pkg/converge/v1/log"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes how to reach one host.
type SSHConfig struct {
	// Address is the hostname or IP dialed; it defaults to the host name.
	Address               string
	Port                  int
	User                  string
	Password              string
	KeyFile               string
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
	ConnectTimeout        time.Duration
	CommandTimeout        time.Duration
	ConnectRetries        int
}

// SSH is a remote connection over golang.org/x/crypto/ssh. Commands run in
// a fresh session each; file transfer and stat go through one lazily opened
// SFTP client.
type SSH struct {
	host  string
	cfg   SSHConfig
	log   convergelog.Logger
	retry *retry.Helper

	mu     sync.Mutex
	client *ssh.Client
	sftp   *sftp.Client

	// agentSock stays open while the client may still ask it to sign.
	agentSock net.Conn
}

var _ connection.Connection = (*SSH)(nil)

// NewSSH creates an unconnected SSH connection for host.
func NewSSH(host string, cfg SSHConfig, log convergelog.Logger) *SSH {
	if cfg.Address == "" {
		cfg.Address = host
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	log = log.With("host", host, "transport", "ssh")
	return &SSH{host: host, cfg: cfg, log: log, retry: retry.NewHelper(log)}
}

func (s *SSH) Host() string { return s.host }

func (s *SSH) address() string {
	return net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))
}

// Connect dials the host, retrying transient failures up to ConnectRetries
// extra times. Authentication and host key failures are not retried.
func (s *SSH) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}

	clientConfig, err := s.clientConfig()
	if err != nil {
		s.closeAgent()
		return convergeerrors.NewTransportError("connect", s.host, "", err)
	}

	var client *ssh.Client
	err = s.retry.Do(ctx, retry.Config{
		Attempts:      s.cfg.ConnectRetries + 1,
		Delay:         time.Second,
		BackoffFactor: 2,
		MaxDelay:      10 * time.Second,
		Jitter:        0.2,
		Label:         "host=" + s.host,
		ShouldRetry:   isTransientDialError,
	}, func(ctx context.Context) error {
		c, dialErr := s.dial(ctx, clientConfig)
		if dialErr != nil {
			return dialErr
		}
		client = c
		return nil
	})
	if err != nil {
		s.closeAgent()
		return convergeerrors.NewTransportError("connect to "+s.address(), s.host, "", err)
	}
	s.client = client
	s.log.Debugf("SSH connection established to %s as %s", s.address(), s.cfg.User)
	return nil
}

func (s *SSH) dial(ctx context.Context, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: s.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.address())
	if err != nil {
		return nil, err
	}
	if s.cfg.ConnectTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.ConnectTimeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, s.address(), clientConfig)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func isTransientDialError(err error) bool {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return false
	}
	return !strings.Contains(err.Error(), "unable to authenticate")
}

func (s *SSH) clientConfig() (*ssh.ClientConfig, error) {
	if s.cfg.User == "" {
		return nil, fmt.Errorf("no SSH user configured for %s", s.host)
	}

	var auth []ssh.AuthMethod
	if s.cfg.Password != "" {
		auth = append(auth, ssh.Password(s.cfg.Password))
	}

	keyFiles := []string{s.cfg.KeyFile}
	if s.cfg.KeyFile == "" {
		keyFiles = defaultKeyFiles()
	}
	var signers []ssh.Signer
	for _, kf := range keyFiles {
		key, err := os.ReadFile(kf)
		if err != nil {
			if s.cfg.KeyFile != "" {
				return nil, fmt.Errorf("failed to read SSH key: %w", err)
			}
			continue
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			if s.cfg.KeyFile != "" {
				return nil, fmt.Errorf("failed to parse SSH key %s: %w", kf, err)
			}
			s.log.Debugf("Skipping unusable key %s: %v", kf, err)
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		auth = append(auth, ssh.PublicKeys(signers...))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if agentConn, err := net.Dial("unix", sock); err == nil {
			s.closeAgent()
			s.agentSock = agentConn
			auth = append(auth, ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers))
		} else {
			s.log.Debugf("SSH agent unavailable: %v", err)
		}
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no authentication methods available for %s", s.host)
	}

	hostKeyCallback, err := s.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.cfg.ConnectTimeout,
	}, nil
}

func (s *SSH) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.cfg.InsecureIgnoreHostKey {
		s.log.Warnf("Host key checking disabled for %s", s.host)
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file := s.cfg.KnownHostsFile
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot locate known_hosts: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return cb, nil
}

func defaultKeyFiles() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_ecdsa"),
		filepath.Join(home, ".ssh", "id_rsa"),
	}
}

// Close tears down the SFTP client, the SSH connection and the agent socket.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.sftp != nil {
		firstErr = s.sftp.Close()
		s.sftp = nil
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.client = nil
	}
	if s.agentSock != nil {
		if err := s.agentSock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.agentSock = nil
	}
	return firstErr
}

// closeAgent drops the agent socket. Callers hold s.mu.
func (s *SSH) closeAgent() {
	if s.agentSock != nil {
		_ = s.agentSock.Close()
		s.agentSock = nil
	}
}

func (s *SSH) sshClient() (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, errors.New("not connected")
	}
	return s.client, nil
}

func (s *SSH) sftpClient() (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, errors.New("not connected")
	}
	if s.sftp == nil {
		c, err := sftp.NewClient(s.client)
		if err != nil {
			return nil, fmt.Errorf("starting sftp subsystem: %w", err)
		}
		s.sftp = c
	}
	return s.sftp, nil
}

// RunCommand runs cmd in a new session. When CommandTimeout elapses or ctx
// is cancelled the remote process is signalled and the session closed.
func (s *SSH) RunCommand(ctx context.Context, cmd string) (*connection.CommandResult, error) {
	client, err := s.sshClient()
	if err != nil {
		return nil, convergeerrors.NewTransportError("run command", s.host, "", err)
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, convergeerrors.NewTransportError("open session", s.host, "", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if s.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CommandTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return nil, convergeerrors.NewTransportError("run command", s.host, "", fmt.Errorf("%q: %w", cmd, ctx.Err()))
	}

	result := &connection.CommandResult{Command: cmd, Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr == nil {
		return result, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(runErr, &missing) {
		result.ExitCode = -1
		return result, nil
	}
	return nil, convergeerrors.NewTransportError("run command", s.host, stderr.String(), runErr)
}

func (s *SSH) stat(p string) (fs.FileInfo, error) {
	c, err := s.sftpClient()
	if err != nil {
		return nil, err
	}
	info, err := c.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return info, nil
}

func (s *SSH) IsDirectory(_ context.Context, p string) (bool, error) {
	info, err := s.stat(p)
	if err != nil {
		return false, convergeerrors.NewTransportError("stat "+p, s.host, "", err)
	}
	return info != nil && info.IsDir(), nil
}

func (s *SSH) IsFile(_ context.Context, p string) (bool, error) {
	info, err := s.stat(p)
	if err != nil {
		return false, convergeerrors.NewTransportError("stat "+p, s.host, "", err)
	}
	return info != nil && info.Mode().IsRegular(), nil
}

// ContentHash runs sha512sum on the host and falls back to streaming the
// file over SFTP when the tool is missing.
func (s *SSH) ContentHash(ctx context.Context, p string) (string, error) {
	res, err := s.RunCommand(ctx, "sha512sum -- "+util.ShellQuote(p))
	if err == nil && res.ExitCode == 0 {
		if fields := strings.Fields(res.Stdout); len(fields) > 0 && len(fields[0]) == 128 {
			return fields[0], nil
		}
	}

	c, err := s.sftpClient()
	if err != nil {
		return "", convergeerrors.NewTransportError("hash "+p, s.host, "", err)
	}
	f, err := c.Open(p)
	if err != nil {
		return "", convergeerrors.NewTransportError("hash "+p, s.host, "", err)
	}
	defer f.Close()
	sum, err := hashReader(f)
	if err != nil {
		return "", convergeerrors.NewTransportError("hash "+p, s.host, "", err)
	}
	return sum, nil
}

func (s *SSH) FetchFile(_ context.Context, remotePath, localPath string) error {
	c, err := s.sftpClient()
	if err != nil {
		return convergeerrors.NewTransportError("fetch "+remotePath, s.host, "", err)
	}
	src, err := c.Open(remotePath)
	if err != nil {
		return convergeerrors.NewTransportError("fetch "+remotePath, s.host, "", err)
	}
	defer src.Close()

	var mode fs.FileMode
	if info, statErr := src.Stat(); statErr == nil {
		mode = info.Mode()
	}
	if err := writeFileAtomic(localPath, src, mode); err != nil {
		return convergeerrors.NewTransportError("fetch "+remotePath, s.host, "", err)
	}
	return nil
}

// PushFile uploads to a temporary name beside remotePath and renames it
// into place.
func (s *SSH) PushFile(_ context.Context, localPath, remotePath string) error {
	c, err := s.sftpClient()
	if err != nil {
		return convergeerrors.NewTransportError("push "+remotePath, s.host, "", err)
	}
	src, err := os.Open(localPath)
	if err != nil {
		return convergeerrors.NewTransportError("push "+remotePath, s.host, "", err)
	}
	defer src.Close()

	if err := c.MkdirAll(path.Dir(remotePath)); err != nil {
		return convergeerrors.NewTransportError("push "+remotePath, s.host, "", err)
	}
	tmp := remotePath + ".converge-tmp"
	dst, err := c.Create(tmp)
	if err != nil {
		return convergeerrors.NewTransportError("push "+remotePath, s.host, "", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = c.Remove(tmp)
		return convergeerrors.NewTransportError("push "+remotePath, s.host, "", err)
	}
	if err := dst.Close(); err != nil {
		_ = c.Remove(tmp)
		return convergeerrors.NewTransportError("push "+remotePath, s.host, "", err)
	}
	if info, statErr := src.Stat(); statErr == nil {
		_ = c.Chmod(tmp, info.Mode().Perm())
	}
	if err := c.PosixRename(tmp, remotePath); err != nil {
		_ = c.Remove(remotePath)
		if err := c.Rename(tmp, remotePath); err != nil {
			_ = c.Remove(tmp)
			return convergeerrors.NewTransportError("push "+remotePath, s.host, "", err)
		}
	}
	return nil
}
