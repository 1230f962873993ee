package remote

import (
	"fmt"
	"io"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/tbracken/gridpoll/internal/models"
)

// FTPSession is the production Session backed by jlaffaye/ftp.
type FTPSession struct {
	opts models.ConnectionOptions
	conn *ftp.ServerConn
}

// NewFTPSession creates an unconnected FTP session. Usable as a Factory.
func NewFTPSession(opts models.ConnectionOptions) Session {
	return &FTPSession{opts: opts}
}

// Connect dials and logs in, honoring the profile's connection timeout.
func (s *FTPSession) Connect() error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	timeout := time.Duration(s.opts.ConnectionTimeout) * time.Second
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(timeout))
	if err != nil {
		return fmt.Errorf("ftp dial %s: %w", addr, err)
	}
	if err := conn.Login(s.opts.Username, s.opts.Password); err != nil {
		_ = conn.Quit()
		return fmt.Errorf("ftp login %s@%s: %w", s.opts.Username, addr, err)
	}
	s.conn = conn
	return nil
}

// List returns the entries of a remote directory.
func (s *FTPSession) List(dir string) ([]FileInfo, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("ftp session not connected")
	}
	entries, err := s.conn.List(dir)
	if err != nil {
		return nil, fmt.Errorf("ftp list %s: %w", dir, err)
	}

	infos := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		switch e.Type {
		case ftp.EntryTypeFile:
			infos = append(infos, FileInfo{
				Name: e.Name,
				Size: int64(e.Size),
				Time: e.Time,
			})
		case ftp.EntryTypeFolder:
			infos = append(infos, FileInfo{Name: e.Name, IsDir: true, Time: e.Time})
		}
	}
	return infos, nil
}

// Retrieve streams a remote file into dst.
func (s *FTPSession) Retrieve(path string, dst io.Writer) (int64, error) {
	if s.conn == nil {
		return 0, fmt.Errorf("ftp session not connected")
	}
	resp, err := s.conn.Retr(path)
	if err != nil {
		return 0, fmt.Errorf("ftp retr %s: %w", path, err)
	}
	defer func() {
		_ = resp.Close()
	}()
	n, err := io.Copy(dst, resp)
	if err != nil {
		return n, fmt.Errorf("ftp read %s: %w", path, err)
	}
	return n, nil
}

// Delete removes a remote file.
func (s *FTPSession) Delete(path string) error {
	if s.conn == nil {
		return fmt.Errorf("ftp session not connected")
	}
	if err := s.conn.Delete(path); err != nil {
		return fmt.Errorf("ftp delete %s: %w", path, err)
	}
	return nil
}

// Close quits the session.
func (s *FTPSession) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Quit()
	s.conn = nil
	return err
}
