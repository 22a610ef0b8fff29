// Package viz renders a room document's change history as a graphviz
// DAG, one node per change labelled with the task and list counts at
// that point in history.
package viz

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderHistoryToSvg walks every change in the document, forks the doc
// at that change, and emits a node labelled with the entity counts at
// that state. Edges follow change dependencies.
func RenderHistoryToSvg(doc *automerge.Doc, outputPath string) error {
	g := graphviz.New()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}

	nodeMap := make(map[string]*cgraph.Node)
	var edgeCounter uint64
	for _, change := range changes {
		docAt, err := doc.Fork(change.Hash())
		if err != nil {
			return fmt.Errorf("failed to checkout %s: %w", change.Hash(), err)
		}
		tasks, lists, err := entityCounts(docAt)
		if err != nil {
			return fmt.Errorf("failed to count entities at %s: %w", change.Hash(), err)
		}

		n, err := graph.CreateNode(change.Hash().String())
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(fmt.Sprintf("%s %s@%d tasks=%d lists=%d", change.Hash().String()[:8], change.ActorID(), change.ActorSeq(), tasks, lists))
		nodeMap[n.Name()] = n

		for _, hash := range change.Dependencies() {
			_, err := graph.CreateEdge(strconv.Itoa(int(atomic.AddUint64(&edgeCounter, 1))), nodeMap[hash.String()], n)
			if err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}

	if err := os.WriteFile(outputPath, buff.Bytes(), os.ModePerm); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

// RenderToTemp renders the history into a fresh temp file and returns
// its path.
func RenderToTemp(doc *automerge.Doc) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := RenderHistoryToSvg(doc, tf); err != nil {
		return "", err
	}
	return tf, nil
}

func entityCounts(doc *automerge.Doc) (tasks, lists int, err error) {
	keys, err := doc.RootMap().Keys()
	if err != nil {
		return 0, 0, err
	}
	for _, k := range keys {
		switch {
		case strings.HasPrefix(k, "task:"):
			tasks++
		case strings.HasPrefix(k, "list:"):
			lists++
		}
	}
	return tasks, lists, nil
}
