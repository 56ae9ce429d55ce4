package category

import (
	"strings"
	"unicode"

	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// NoMessage names the message group of results without an error message.
const NoMessage = "No message"

// nodeNamespace scopes deterministic node ids.
var nodeNamespace = uuid.MustParse("6f1c7a52-3c1e-4d8e-9a55-0b7f1b2d9e10")

// Tree is a category tree. Roots are group or category nodes; every
// container lists its children by id.
type Tree struct {
	Roots []string
	Nodes map[string]*model.CategoryNode

	memberships map[string][]string
}

// Node returns a node by id.
func (t *Tree) Node(id string) (*model.CategoryNode, bool) {
	n, ok := t.Nodes[id]

	return n, ok
}

// CategoriesOf returns the category names a result was placed in.
func (t *Tree) CategoriesOf(testResultID string) []string {
	return append([]string(nil), t.memberships[testResultID]...)
}

type container struct {
	node    *model.CategoryNode
	members map[string]model.Status
	index   map[string]*container
}

func newContainer(id string, typ model.CategoryNodeType, name string) *container {
	return &container{
		node: &model.CategoryNode{
			ID:   id,
			Type: typ,
			Name: name,
		},
		members: make(map[string]model.Status, 4),
		index:   make(map[string]*container, 2),
	}
}

// child returns the child container keyed by key, creating it on first use.
func (c *container) child(
	nodes map[string]*container, key string, typ model.CategoryNodeType, name string,
) *container {
	if ch, ok := c.index[key]; ok {
		return ch
	}

	ch := newContainer(nodeID(c.node.ID, key), typ, name)
	c.index[key] = ch
	c.node.ChildrenIDs = append(c.node.ChildrenIDs, ch.node.ID)
	nodes[ch.node.ID] = ch

	return ch
}

// BuildTree classifies results and arranges them by group, category and
// normalized message. Results are expected to be visible results only.
func (c *Classifier) BuildTree(results []*model.TestResult) *Tree {
	tree := &Tree{
		Nodes:       make(map[string]*model.CategoryNode, len(results)),
		memberships: make(map[string][]string, len(results)),
	}

	containers := make(map[string]*container, 16)
	roots := newContainer("", "", "")

	for _, tr := range results {
		if tr == nil {
			continue
		}

		for _, rule := range c.Classify(SubjectOf(tr)) {
			parent := roots
			path := []*container{}

			if rule.Group != "" {
				parent = roots.child(containers, "group\x00"+rule.Group, model.CategoryNodeGroup, rule.Group)
				path = append(path, parent)
			}

			cat := parent.child(containers, "category\x00"+rule.Name, model.CategoryNodeCategory, rule.Name)
			cat.node.Tags = mergeTags(cat.node.Tags, rule.Tags)

			msg := NormalizeMessage(tr.Message())
			msgNode := cat.child(containers, "message\x00"+msg, model.CategoryNodeMessage, msg)

			path = append(path, cat, msgNode)

			if _, dup := msgNode.members[tr.ID]; dup {
				continue
			}

			leafID := nodeID(msgNode.node.ID, tr.ID)
			tree.Nodes[leafID] = &model.CategoryNode{
				ID:           leafID,
				Type:         model.CategoryNodeTestResult,
				Name:         tr.Name,
				TestResultID: tr.ID,
				Status:       tr.Status,
				Tags:         append([]string(nil), rule.Tags...),
			}
			msgNode.node.ChildrenIDs = append(msgNode.node.ChildrenIDs, leafID)

			for _, p := range path {
				p.members[tr.ID] = tr.Status
			}

			tree.memberships[tr.ID] = appendUnique(tree.memberships[tr.ID], rule.Name)
		}
	}

	tree.Roots = roots.node.ChildrenIDs

	for id, ct := range containers {
		var stat model.Statistic
		for _, status := range ct.members {
			stat.Add(status)
		}

		ct.node.Statistic = &stat
		tree.Nodes[id] = ct.node
	}

	return tree
}

// NormalizeMessage reduces a message to its first non-empty line with
// whitespace collapsed, in Unicode NFC.
func NormalizeMessage(msg string) string {
	msg = norm.NFC.String(msg)

	for _, line := range strings.Split(msg, "\n") {
		line = strings.Join(strings.FieldsFunc(line, unicode.IsSpace), " ")
		if line != "" {
			return line
		}
	}

	return NoMessage
}

func nodeID(parent, key string) string {
	return uuid.NewSHA1(nodeNamespace, []byte(parent+"\x00"+key)).String()
}

func mergeTags(existing, add []string) []string {
	for _, t := range add {
		existing = appendUnique(existing, t)
	}

	return existing
}

func appendUnique(list []string, v string) []string {
	for _, have := range list {
		if have == v {
			return list
		}
	}

	return append(list, v)
}
