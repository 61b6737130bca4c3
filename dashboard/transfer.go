package dashboard

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"go.uber.org/multierr"
	"golang.org/x/crypto/ssh"
)

// DefaultProgramDir is where PolyScope looks for .urp programs.
const DefaultProgramDir = "/programs"

// SSHConfig holds credentials for copying programs onto the controller.
type SSHConfig struct {
	User     string `json:"user"`
	Password string `json:"password"`
	Port     int    `json:"port"`
}

// RemoteProgramPath maps a local program file to its controller-side path.
func RemoteProgramPath(localPath string) string {
	return path.Join(DefaultProgramDir, filepath.Base(localPath))
}

// TransferProgram copies a local program file to remotePath on the
// controller over SFTP, creating or truncating the remote file.
func (c *Client) TransferProgram(ctx context.Context, localPath, remotePath string) (err error) {
	if c.cfg.SSH.User == "" {
		return errors.New("ssh credentials not configured for program transfer")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	port := c.cfg.SSH.Port
	if port == 0 {
		port = 22
	}
	sshCfg := &ssh.ClientConfig{
		User: c.cfg.SSH.User,
		Auth: []ssh.AuthMethod{ssh.Password(c.cfg.SSH.Password)},
		// Controller reimages rotate the host key.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.cfg.DialTimeout,
	}

	conn, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", c.cfg.Host, port), sshCfg)
	if err != nil {
		return errors.Wrap(err, "ssh dial controller")
	}
	defer func() {
		err = multierr.Combine(err, conn.Close())
	}()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return errors.Wrap(err, "open sftp session")
	}
	defer func() {
		err = multierr.Combine(err, client.Close())
	}()

	src, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap(err, "open local program")
	}
	defer func() {
		err = multierr.Combine(err, src.Close())
	}()

	dst, err := client.Create(remotePath)
	if err != nil {
		return errors.Wrapf(err, "create %s on controller", remotePath)
	}
	defer func() {
		err = multierr.Combine(err, dst.Close())
	}()

	n, err := io.Copy(dst, src)
	if err != nil {
		return errors.Wrapf(err, "copy program to %s", remotePath)
	}
	c.logger.Infof("transferred %s to %s (%d bytes)", localPath, remotePath, n)
	return nil
}
