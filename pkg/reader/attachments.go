package reader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/reportoor/pkg/resultfile"
	"github.com/sirupsen/logrus"
)

const attachmentsReaderID = "attachments"

type attachmentsReader struct {
	log logrus.FieldLogger
}

// Ensure interface compliance.
var _ Reader = (*attachmentsReader)(nil)

// NewAttachmentsReader creates the catch-all reader that hands any regular,
// non-hidden file to the visitor as a raw attachment.
func NewAttachmentsReader(log logrus.FieldLogger) Reader {
	return &attachmentsReader{log: log.WithField("component", "reader-attachments")}
}

// ID returns the reader identifier.
func (r *attachmentsReader) ID() string {
	return attachmentsReaderID
}

// Read visits path as an attachment file.
func (r *attachmentsReader) Read(_ context.Context, v Visitor, path string) (bool, error) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false, nil
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false, nil
	}

	file, err := resultfile.NewPathFile(path)
	if err != nil {
		return malformed(r.log, attachmentsReaderID, path, err)
	}

	if err := v.VisitAttachmentFile(file, newContext(attachmentsReaderID, path)); err != nil {
		return false, fmt.Errorf("visiting attachment %s: %w", path, err)
	}

	return true, nil
}
