package wire

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig describes a remote hop whose command is attached to the
// device, for example a socat or picocom bridge on a lab host.
type SSHConfig struct {
	// Addr is the host:port to dial.
	Addr string
	// User and Password authenticate the hop.
	User     string
	Password string
	// Command is started on the remote side with its stdin/stdout
	// spliced into the transport. Empty means the login shell.
	Command string
	// HostKeyCallback defaults to accepting any host key, which suits
	// disposable lab hosts; production callers should supply one.
	HostKeyCallback ssh.HostKeyCallback
	// DialTimeout bounds the TCP and SSH handshake.
	DialTimeout time.Duration
}

// SSHTransport runs the protocol across an SSH session. The session's
// stdout is pumped into an internal queue so reads honor timeouts; the
// SSH pipes themselves have no deadline support.
type SSHTransport struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	rx      *byteQueue
}

// DialSSH connects, starts the remote command, and returns a transport
// ready for protocol traffic.
func DialSSH(cfg SSHConfig) (*SSHTransport, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	hostKey := cfg.HostKeyCallback
	if hostKey == nil {
		hostKey = ssh.InsecureIgnoreHostKey()
	}
	client, err := ssh.Dial("tcp", cfg.Addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: hostKey,
		Timeout:         cfg.DialTimeout,
	})
	if err != nil {
		return nil, NewError(ErrIO, fmt.Sprintf("ssh dial %s: %v", cfg.Addr, err))
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, NewError(ErrIO, fmt.Sprintf("ssh session: %v", err))
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, NewError(ErrIO, fmt.Sprintf("ssh stdin: %v", err))
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, NewError(ErrIO, fmt.Sprintf("ssh stdout: %v", err))
	}

	if cfg.Command != "" {
		err = session.Start(cfg.Command)
	} else {
		err = session.Shell()
	}
	if err != nil {
		session.Close()
		client.Close()
		return nil, NewError(ErrIO, fmt.Sprintf("ssh start: %v", err))
	}

	st := &SSHTransport{
		client:  client,
		session: session,
		stdin:   stdin,
		rx:      newByteQueue(),
	}
	go st.pump(stdout)
	return st, nil
}

// pump moves remote stdout into the read queue until EOF.
func (s *SSHTransport) pump(stdout io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if s.rx.push(buf[:n]) != nil {
				return
			}
		}
		if err != nil {
			s.rx.close()
			return
		}
	}
}

func (s *SSHTransport) Read(p []byte, timeout time.Duration) (int, error) {
	n, err := s.rx.pop(p, timeout)
	if err != nil {
		return 0, NewError(ErrIO, "ssh session closed")
	}
	return n, nil
}

func (s *SSHTransport) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Flush is a no-op: the SSH channel has no buffered-write barrier.
func (s *SSHTransport) Flush() error { return nil }

func (s *SSHTransport) Available() int { return s.rx.size() }

func (s *SSHTransport) Close() error {
	s.rx.close()
	s.stdin.Close()
	s.session.Close()
	return s.client.Close()
}
