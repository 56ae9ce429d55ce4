package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ethpandaops/reportoor/pkg/fsutil"
	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/sirupsen/logrus"
)

// maxLineSize bounds a single encoded data point.
const maxLineSize = 64 << 20

// committedLog is the single writer of one history file. Every data point
// is encoded up front and written with one append-mode write, so a reader
// never sees a partially appended record from this process.
type committedLog struct {
	log   logrus.FieldLogger
	path  string
	owner *fsutil.OwnerConfig
	mu    sync.Mutex
}

func newCommittedLog(log logrus.FieldLogger, path string, owner *fsutil.OwnerConfig) *committedLog {
	return &committedLog{
		log:   log.WithField("file", path),
		path:  path,
		owner: owner,
	}
}

func (c *committedLog) append(point *model.HistoryDataPoint) error {
	line, err := json.Marshal(point)
	if err != nil {
		return fmt.Errorf("encoding data point: %w", err)
	}

	line = append(line, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := fsutil.OpenAppend(c.path, 0o644, c.owner)
	if err != nil {
		return fmt.Errorf("opening history file: %w", err)
	}

	if _, err := f.Write(line); err != nil {
		_ = f.Close()

		return fmt.Errorf("appending data point: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()

		return fmt.Errorf("syncing history file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing history file: %w", err)
	}

	return nil
}

// readAll returns every data point in write order. A missing file is an
// empty history; undecodable lines are skipped.
func (c *committedLog) readAll() ([]model.HistoryDataPoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []model.HistoryDataPoint{}, nil
		}

		return nil, fmt.Errorf("opening history file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return decodeLines(c.log, f)
}

func decodeLines(log logrus.FieldLogger, r io.Reader) ([]model.HistoryDataPoint, error) {
	points := make([]model.HistoryDataPoint, 0, 16)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var point model.HistoryDataPoint
		if err := json.Unmarshal(line, &point); err != nil {
			log.WithError(err).WithField("line", lineNo).Warn("Skipping malformed history record")

			continue
		}

		if point.TestResults == nil {
			point.TestResults = map[string]model.HistoryTestResult{}
		}

		points = append(points, point)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading history file: %w", err)
	}

	return points, nil
}
