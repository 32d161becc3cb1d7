// Package fetch downloads the vendor report from the SFTP server.
package fetch

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"cdw-asset-import/internal/apperr"
	"cdw-asset-import/internal/config"
)

// SFTPFetcher copies one remote file to the local download path over SFTP.
type SFTPFetcher struct {
	log *zap.Logger
}

// NewSFTPFetcher creates a fetcher that logs to log.
func NewSFTPFetcher(log *zap.Logger) *SFTPFetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &SFTPFetcher{log: log}
}

// Fetch opens a verified session to the configured server, checks that the remote
// path is a regular file and copies it to s.DownloadPath. The session is closed
// before Fetch returns.
func (f *SFTPFetcher) Fetch(ctx context.Context, s config.Settings) (int64, error) {
	cfg, err := ClientConfig(s)
	if err != nil {
		return 0, err
	}

	addr := Address(s)
	f.log.Info("connecting", zap.String("addr", addr), zap.String("user", s.Username))

	sshClient, err := dial(ctx, addr, cfg, s.Timeout)
	if err != nil {
		return 0, err
	}
	defer sshClient.Close()

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return 0, apperr.New(apperr.KindConnection, "start sftp session", err)
	}
	defer client.Close()

	n, err := Download(client, s.RemoteFile, s.DownloadPath)
	if err != nil {
		return n, err
	}

	f.log.Info("downloaded report",
		zap.String("remote", s.RemoteFile),
		zap.String("local", s.DownloadPath),
		zap.Int64("bytes", n),
	)
	return n, nil
}

// ClientConfig builds the SSH client configuration for s. The server key must be
// listed in s.KnownHostsPath; there is no fallback to unverified hosts.
func ClientConfig(s config.Settings) (*ssh.ClientConfig, error) {
	hostKeys, err := knownhosts.New(s.KnownHostsPath)
	if err != nil {
		return nil, apperr.New(apperr.KindConnection, "load known hosts "+s.KnownHostsPath, err)
	}

	return &ssh.ClientConfig{
		User: s.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(s.Password),
			ssh.KeyboardInteractive(passwordChallenge(s.Password)),
		},
		HostKeyCallback: hostKeys,
		Timeout:         s.Timeout,
	}, nil
}

// Address returns host:port for s. A port already present in ServerAddress wins.
func Address(s config.Settings) string {
	if _, _, err := net.SplitHostPort(s.ServerAddress); err == nil {
		return s.ServerAddress
	}
	return net.JoinHostPort(s.ServerAddress, strconv.Itoa(s.ServerPort))
}

func dial(ctx context.Context, addr string, cfg *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, apperr.New(apperr.KindConnection, "dial "+addr, err)
	}

	// the SSH handshake is not context aware
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, apperr.New(apperr.KindConnection, "ssh handshake with "+addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

// passwordChallenge answers every keyboard-interactive prompt with the password.
func passwordChallenge(password string) ssh.KeyboardInteractiveChallenge {
	return func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = password
		}
		return answers, nil
	}
}

// Download copies remote to local over an open SFTP session. remote must be a
// regular file; local is created or truncated.
func Download(client *sftp.Client, remote, local string) (int64, error) {
	info, err := client.Stat(remote)
	if err != nil {
		if isNotExist(err) {
			return 0, apperr.New(apperr.KindRemoteNotFound, "stat "+remote, err)
		}
		return 0, apperr.New(apperr.KindConnection, "stat "+remote, err)
	}
	if !info.Mode().IsRegular() {
		return 0, apperr.Errorf(apperr.KindRemoteNotFound, "stat "+remote, "not a regular file (mode %s)", info.Mode())
	}

	src, err := client.Open(remote)
	if err != nil {
		if isNotExist(err) {
			return 0, apperr.New(apperr.KindRemoteNotFound, "open "+remote, err)
		}
		return 0, apperr.New(apperr.KindConnection, "open "+remote, err)
	}
	defer src.Close()

	dst, err := os.Create(local)
	if err != nil {
		return 0, apperr.New(apperr.KindIO, "create "+local, err)
	}

	n, err := io.Copy(dst, src)
	if err != nil {
		dst.Close()
		return n, apperr.New(apperr.KindIO, "copy "+remote, err)
	}
	if err := dst.Close(); err != nil {
		return n, apperr.New(apperr.KindIO, "close "+local, err)
	}
	return n, nil
}

// isNotExist reports a missing remote path; pkg/sftp maps SSH_FX_NO_SUCH_FILE to fs.ErrNotExist.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
