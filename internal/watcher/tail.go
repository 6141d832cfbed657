package watcher

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

const tailPollInterval = 2 * time.Second

// Tailer follows an append-only log file across rotations. On a cold
// start it seeks to the end, so historical connections are not replayed
// into the detector.
type Tailer struct {
	path   string
	logger *slog.Logger

	file   *os.File
	reader *bufio.Reader
	offset int64
}

func NewTailer(path string, logger *slog.Logger) *Tailer {
	return &Tailer{path: path, logger: logger}
}

// Run feeds complete lines to handle until ctx is cancelled. A missing
// file is not fatal: the tailer keeps polling until it appears.
func (t *Tailer) Run(ctx context.Context, handle func(line string)) {
	defer t.closeFile()

	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	first := true
	for {
		if t.file == nil {
			if err := t.open(first); err != nil {
				t.logger.Debug("access log not readable", "path", t.path, "err", err)
			}
			first = false
		}
		if t.file != nil {
			t.drain(handle)
			t.checkRotation()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *Tailer) open(seekEnd bool) error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	t.offset = 0
	if seekEnd {
		if off, err := f.Seek(0, io.SeekEnd); err == nil {
			t.offset = off
		}
	}
	t.file = f
	t.reader = bufio.NewReader(f)
	t.logger.Info("tailing access log", "path", t.path, "offset", t.offset)
	return nil
}

// drain reads all complete lines currently available. A trailing
// partial line is pushed back by re-seeking, so it is re-read whole on
// the next poll.
func (t *Tailer) drain(handle func(line string)) {
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			if len(line) > 0 {
				t.file.Seek(t.offset, io.SeekStart)
				t.reader.Reset(t.file)
			}
			return
		}
		t.offset += int64(len(line))
		handle(line[:len(line)-1])
	}
}

// checkRotation reopens the file when it was truncated or replaced.
func (t *Tailer) checkRotation() {
	st, err := os.Stat(t.path)
	if err != nil || st.Size() < t.offset {
		t.closeFile()
		return
	}
	cur, err := t.file.Stat()
	if err != nil || !os.SameFile(st, cur) {
		t.closeFile()
	}
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
		t.reader = nil
		t.offset = 0
	}
}
