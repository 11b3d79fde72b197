package remote

import (
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
)

// fileChannel is the subset of the SFTP client a Session drives
type fileChannel interface {
	ReadDir(p string) ([]os.FileInfo, error)
	Remove(p string) error
	RemoveDirectory(p string) error
	Rename(oldname, newname string) error
	Mkdir(p string) error
	CreateEmpty(p string) error
	Getwd() (string, error)
	Close() error
}

// transport is the subset of the SSH client a Session drives
type transport interface {
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)
	Wait() error
	Close() error
}

// sftpChannel adapts *sftp.Client to fileChannel
type sftpChannel struct {
	*sftp.Client
}

// CreateEmpty creates a new empty file, failing if it already exists
func (c sftpChannel) CreateEmpty(p string) error {
	f, err := c.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	if err != nil {
		return err
	}
	return f.Close()
}

// idleConn pushes the deadline forward on every read and write, so the
// connection fails once no traffic has been seen for the timeout.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func newIdleConn(conn net.Conn, timeout time.Duration) net.Conn {
	if timeout <= 0 {
		return conn
	}
	return &idleConn{Conn: conn, timeout: timeout}
}

func (c *idleConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *idleConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}
