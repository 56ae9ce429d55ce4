// Package store holds the canonical result graph. It is built through the
// reader.Visitor methods, completed once by Finalize and read through the
// query methods afterwards.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/docker/go-units"
	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/ethpandaops/reportoor/pkg/reader"
	"github.com/ethpandaops/reportoor/pkg/resultfile"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by point lookups for unknown ids.
var ErrNotFound = errors.New("not found")

// ErrFinalized is returned when the store is mutated after Finalize.
var ErrFinalized = errors.New("store already finalized")

// Option configures a Store.
type Option func(*Store)

// WithSpoolDir sets the parent directory for spooled attachment content.
// Defaults to the OS temp directory.
func WithSpoolDir(dir string) Option {
	return func(s *Store) {
		s.spoolParent = dir
	}
}

// WithIDGenerator overrides how canonical ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// Store is the in-memory result graph. Visitor calls are serialized with a
// mutex; queries take a read lock.
type Store struct {
	log         logrus.FieldLogger
	newID       func() string
	spoolParent string
	spoolDir    string

	mu        sync.RWMutex
	finalized bool

	results     map[string]*model.TestResult
	resultOrder []string
	bySourceID  map[string]string
	byHistoryID map[string]string // historyId -> fullName that claimed it

	fixtures       map[string]*model.TestFixtureResult
	fixtureOrder   []string
	fixtureSources map[string][]string

	attachments     map[string]*model.AttachmentLink
	attachmentOrder []string
	attachmentNames map[string][]string
	files           map[string]resultfile.File

	metadata map[string]json.RawMessage

	history       []model.HistoryDataPoint
	known         []model.KnownTestFailure
	retries       map[string][]string
	resultHistory map[string][]model.HistoryTestResult
}

// Ensure interface compliance.
var _ reader.Visitor = (*Store)(nil)

// New creates an empty store.
func New(log logrus.FieldLogger, opts ...Option) *Store {
	s := &Store{
		log:             log.WithField("component", "store"),
		newID:           uuid.NewString,
		results:         make(map[string]*model.TestResult, 256),
		bySourceID:      make(map[string]string, 256),
		byHistoryID:     make(map[string]string, 256),
		fixtures:        make(map[string]*model.TestFixtureResult, 64),
		fixtureSources:  make(map[string][]string, 64),
		attachments:     make(map[string]*model.AttachmentLink, 64),
		attachmentNames: make(map[string][]string, 64),
		files:           make(map[string]resultfile.File, 64),
		metadata:        make(map[string]json.RawMessage, 4),
		retries:         make(map[string][]string),
		resultHistory:   make(map[string][]model.HistoryTestResult),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Close removes spooled attachment content.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.spoolDir == "" {
		return nil
	}

	if err := os.RemoveAll(s.spoolDir); err != nil {
		return fmt.Errorf("removing spool directory: %w", err)
	}

	s.spoolDir = ""

	return nil
}

// VisitTestResult converts raw into a canonical TestResult.
func (s *Store) VisitTestResult(raw *model.RawTestResult, rc reader.Context) error {
	if raw == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrFinalized
	}

	tr := &model.TestResult{
		ID:          s.newID(),
		SourceID:    raw.UUID,
		TestCaseID:  raw.TestCaseID,
		Name:        firstNonEmpty(raw.Name, raw.FullName, "Unknown test"),
		FullName:    raw.FullName,
		Description: raw.Description,
		Status:      model.ParseStatus(raw.Status),
		Error:       convertError(raw.Error),
		Start:       raw.Start,
		Stop:        raw.Stop,
		Duration:    duration(raw.Duration, raw.Start, raw.Stop),
		Labels:      convertLabels(raw.Labels),
		Links:       convertLinks(raw.Links),
		Parameters:  convertParameters(raw.Parameters),
		TitlePath:   raw.TitlePath,
		Flaky:       raw.Flaky,
		Muted:       raw.Muted,
		ReaderID:    rc.ReaderID,
	}

	tr.Steps = s.convertSteps(raw.Steps, tr.ID)
	tr.HistoryID = s.resolveHistoryID(raw, rc)

	if raw.UUID != "" {
		s.bySourceID[raw.UUID] = tr.ID
	}

	s.results[tr.ID] = tr
	s.resultOrder = append(s.resultOrder, tr.ID)

	return nil
}

// resolveHistoryID prefers the producer supplied id and derives one from the
// full name otherwise. A history id already claimed by a different full name
// is dropped so unrelated tests are never merged into one retry group.
func (s *Store) resolveHistoryID(raw *model.RawTestResult, rc reader.Context) string {
	hid := strings.TrimSpace(raw.HistoryID)
	if hid == "" {
		if strings.TrimSpace(raw.FullName) == "" {
			return ""
		}

		hid = DeriveHistoryID(raw.FullName, raw.Parameters)
	}

	claimed, ok := s.byHistoryID[hid]
	if !ok {
		s.byHistoryID[hid] = raw.FullName

		return hid
	}

	if claimed != raw.FullName && claimed != "" && raw.FullName != "" {
		s.log.WithFields(logrus.Fields{
			"history_id": hid,
			"full_name":  raw.FullName,
			"claimed_by": claimed,
			"reader":     rc.ReaderID,
		}).Warn("History id is shared by different tests, result will not be tracked")

		return ""
	}

	return hid
}

// VisitTestFixtureResult converts raw into a canonical TestFixtureResult.
// Links to test results are resolved in Finalize since containers may be
// read before the results they reference.
func (s *Store) VisitTestFixtureResult(raw *model.RawFixtureResult, _ reader.Context) error {
	if raw == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrFinalized
	}

	typ := raw.Type
	if typ != model.FixtureAfter {
		typ = model.FixtureBefore
	}

	fx := &model.TestFixtureResult{
		ID:            s.newID(),
		SourceID:      raw.UUID,
		Type:          typ,
		Name:          firstNonEmpty(raw.Name, "Unknown fixture"),
		Status:        model.ParseStatus(raw.Status),
		Error:         convertError(raw.Error),
		Start:         raw.Start,
		Stop:          raw.Stop,
		Duration:      duration(raw.Duration, raw.Start, raw.Stop),
		TestResultIDs: []string{},
	}

	fx.Steps = s.convertSteps(raw.Steps, fx.ID)

	s.fixtures[fx.ID] = fx
	s.fixtureOrder = append(s.fixtureOrder, fx.ID)
	s.fixtureSources[fx.ID] = append([]string(nil), raw.TestResultIDs...)

	return nil
}

// VisitAttachmentFile registers attachment content. Ephemeral content is
// spooled into the store's own directory before the call returns.
func (s *Store) VisitAttachmentFile(file resultfile.File, rc reader.Context) error {
	if file == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrFinalized
	}

	name := file.Name()

	// Fill the first link a step created before the content arrived.
	var link *model.AttachmentLink

	for _, id := range s.attachmentNames[name] {
		if _, has := s.files[id]; !has {
			link = s.attachments[id]

			break
		}
	}

	if link == nil {
		link = s.newAttachmentLink(name, "", "")
	}

	if file.Ephemeral() {
		spooled, err := s.spool(link.ID, file)
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"attachment": name,
				"reader":     rc.ReaderID,
			}).Warn("Failed to spool attachment content")

			return nil
		}

		file = spooled
	}

	s.files[link.ID] = file
	link.Missing = false

	if link.ContentType == "" {
		link.ContentType = file.ContentType()
	}

	if n := file.ContentLength(); n >= 0 {
		link.ContentLength = n
	}

	if link.Ext == "" {
		link.Ext = attachmentExt(name, link.ContentType)
	}

	return nil
}

// VisitMetadata stores a metadata document. Later documents replace earlier
// ones for the same key.
func (s *Store) VisitMetadata(key string, data json.RawMessage, rc reader.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrFinalized
	}

	if _, exists := s.metadata[key]; exists {
		s.log.WithFields(logrus.Fields{
			"key":    key,
			"reader": rc.ReaderID,
		}).Debug("Replacing metadata document")
	}

	s.metadata[key] = append(json.RawMessage(nil), data...)

	return nil
}

func (s *Store) spool(id string, file resultfile.File) (resultfile.File, error) {
	if s.spoolDir == "" {
		dir, err := os.MkdirTemp(s.spoolParent, "reportoor-spool-*")
		if err != nil {
			return nil, fmt.Errorf("creating spool directory: %w", err)
		}

		s.spoolDir = dir
	}

	path := filepath.Join(s.spoolDir, id+file.Ext())

	n, err := resultfile.WriteTo(file, path)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"attachment": file.Name(),
		"size":       units.HumanSize(float64(n)),
	}).Debug("Spooled attachment content")

	return resultfile.NewNamedPathFile(path, file.Name())
}

// newAttachmentLink registers a link that still waits for its content.
func (s *Store) newAttachmentLink(originalName, name, contentType string) *model.AttachmentLink {
	link := &model.AttachmentLink{
		ID:           s.newID(),
		Name:         name,
		OriginalName: originalName,
		ContentType:  contentType,
		Ext:          attachmentExt(originalName, contentType),
		Missing:      true,
	}

	s.attachments[link.ID] = link
	s.attachmentOrder = append(s.attachmentOrder, link.ID)
	s.attachmentNames[originalName] = append(s.attachmentNames[originalName], link.ID)

	return link
}

// linkAttachment resolves a step attachment to a link owned by ownerID. The
// first unused link for the name is claimed; once every link is used a new
// one sharing the same content is created.
func (s *Store) linkAttachment(raw *model.RawStepAttachment, ownerID string) *model.AttachmentLink {
	var link *model.AttachmentLink

	for _, id := range s.attachmentNames[raw.OriginalName] {
		if l := s.attachments[id]; !l.Used {
			link = l

			break
		}
	}

	if link == nil {
		link = s.newAttachmentLink(raw.OriginalName, raw.Name, raw.ContentType)

		if ids := s.attachmentNames[raw.OriginalName]; len(ids) > 1 {
			if f, ok := s.files[ids[0]]; ok {
				s.files[link.ID] = f
				link.Missing = false

				if n := f.ContentLength(); n >= 0 {
					link.ContentLength = n
				}
			}
		}
	}

	link.Used = true
	link.OwnerID = ownerID

	if raw.Name != "" {
		link.Name = raw.Name
	}

	if raw.ContentType != "" {
		link.ContentType = raw.ContentType
		link.Ext = attachmentExt(link.OriginalName, raw.ContentType)
	}

	if link.ContentLength == 0 && raw.ContentLength > 0 {
		link.ContentLength = raw.ContentLength
	}

	return link
}

func (s *Store) convertSteps(raw []model.RawStep, ownerID string) []model.Step {
	steps := make([]model.Step, 0, len(raw))

	for _, rs := range raw {
		switch st := rs.(type) {
		case *model.RawStepStep:
			steps = append(steps, &model.DefaultStep{
				Name:       firstNonEmpty(st.Name, "Unknown step"),
				Status:     model.ParseStatus(st.Status),
				Error:      convertError(st.Error),
				Start:      st.Start,
				Stop:       st.Stop,
				Duration:   duration(st.Duration, st.Start, st.Stop),
				Parameters: convertParameters(st.Parameters),
				Steps:      s.convertSteps(st.Steps, ownerID),
			})
		case *model.RawStepAttachment:
			steps = append(steps, &model.AttachmentStep{
				Attachment: s.linkAttachment(st, ownerID),
			})
		}
	}

	return steps
}

func attachmentExt(name, contentType string) string {
	if ext := filepath.Ext(name); ext != "" {
		return ext
	}

	if contentType == "" {
		return ""
	}

	return resultfile.ExtensionForContentType(contentType)
}

func convertError(e *model.RawError) *model.TestError {
	if e.Empty() {
		return nil
	}

	return &model.TestError{
		Message:  e.Message,
		Trace:    e.Trace,
		Expected: e.Expected,
		Actual:   e.Actual,
	}
}

func convertLabels(raw []model.RawLabel) []model.Label {
	labels := make([]model.Label, 0, len(raw))

	for _, l := range raw {
		if l.Name == "" {
			continue
		}

		labels = append(labels, model.Label(l))
	}

	return labels
}

func convertLinks(raw []model.RawLink) []model.Link {
	links := make([]model.Link, 0, len(raw))

	for _, l := range raw {
		if l.URL == "" {
			continue
		}

		links = append(links, model.Link(l))
	}

	return links
}

func convertParameters(raw []model.RawParameter) []model.Parameter {
	params := make([]model.Parameter, 0, len(raw))

	for _, p := range raw {
		value := p.Value
		if p.Masked {
			value = "******"
		}

		params = append(params, model.Parameter{
			Name:     p.Name,
			Value:    value,
			Hidden:   p.Hidden,
			Excluded: p.Excluded,
			Masked:   p.Masked,
		})
	}

	return params
}

func duration(explicit, start, stop int64) int64 {
	if explicit > 0 {
		return explicit
	}

	if start > 0 && stop >= start {
		return stop - start
	}

	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}

	return ""
}
