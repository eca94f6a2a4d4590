package logx

import (
	"bufio"
	"errors"
	"os"

	"github.com/spf13/afero"
)

// ErrNoLog is returned by Tail when the log file does not exist yet.
var ErrNoLog = errors.New("log file not found")

// Tail returns the last n lines of the file at path, oldest first.
func Tail(fs afero.Fs, path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoLog
		}
		return nil, err
	}
	defer f.Close()

	ring := make([]string, n)
	count := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		ring[count%n] = sc.Text()
		count++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if count <= n {
		return append([]string(nil), ring[:count]...), nil
	}
	start := count % n
	out := make([]string, 0, n)
	out = append(out, ring[start:]...)
	out = append(out, ring[:start]...)
	return out, nil
}
