package fetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"sync"

	"github.com/jlaffaye/ftp"
)

// openFTP starts a binary RETR of u.Path. Credentials come from the URL,
// otherwise the anonymous account is used.
func (f *Fetcher) openFTP(ctx context.Context, u *url.URL) (io.ReadCloser, int64, error) {
	if u.Path == "" || u.Path == "/" {
		return nil, 0, errors.New("ftp url has no file path")
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "21")
	}

	conn, err := ftp.Dial(host,
		ftp.DialWithTimeout(f.cfg.Timeout),
		ftp.DialWithContext(ctx),
	)
	if err != nil {
		return nil, 0, err
	}

	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, 0, err
	}
	if err := conn.Type(ftp.TransferTypeBinary); err != nil {
		_ = conn.Quit()
		return nil, 0, err
	}

	size, err := conn.FileSize(u.Path)
	if err != nil {
		size = -1
	}
	resp, err := conn.Retr(u.Path)
	if err != nil {
		_ = conn.Quit()
		return nil, 0, err
	}
	return &ftpBody{resp: resp, conn: conn}, size, nil
}

type ftpBody struct {
	resp *ftp.Response
	conn *ftp.ServerConn

	once sync.Once
	err  error
}

func (b *ftpBody) Read(p []byte) (int, error) { return b.resp.Read(p) }

// Close is idempotent; the idle watchdog may race the normal close.
func (b *ftpBody) Close() error {
	b.once.Do(func() {
		b.err = b.resp.Close()
		_ = b.conn.Quit()
	})
	return b.err
}
