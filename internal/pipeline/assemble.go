package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/samber/lo"
)

// Assemble writes recognition results into the tree's nodes, keyed by node
// index. Unsuccessful results still set the default fields so the node
// exposes an explicit empty label. Results with out-of-range or repeated
// indices are ignored with a warning. A panic while assembling is recovered
// and the partially filled tree stays usable.
func Assemble(tree *PedigreeTree, results []RecognitionResult, logger *slog.Logger) (warnings []NodeWarning) {
	if logger == nil {
		logger = slog.Default()
	}
	if tree == nil {
		return []NodeWarning{newWarning(-1, StageAssemble, fmt.Errorf("no tree to assemble"))}
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("assembly panicked: %v", r)
			logger.Error("Tree assembly aborted, returning partial tree", "error", err)
			warnings = append(warnings, newWarning(-1, StageAssemble, err))
		}
	}()

	for _, res := range results {
		if res.NodeIndex < 0 || res.NodeIndex >= len(tree.Nodes) {
			logger.Warn("Recognition result for unknown node", "node", res.NodeIndex, "nodes", len(tree.Nodes))
			warnings = append(warnings,
				newWarning(res.NodeIndex, StageAssemble, fmt.Errorf("node index %d out of range", res.NodeIndex)))
			continue
		}
		if !tree.Nodes[res.NodeIndex].SetText(res.Fields) {
			logger.Warn("Node text already set, ignoring result", "node", res.NodeIndex)
			warnings = append(warnings,
				newWarning(res.NodeIndex, StageAssemble, fmt.Errorf("node %d already has text", res.NodeIndex)))
			continue
		}
		if res.Outcome != OutcomeSuccess {
			err := res.Err
			if err == nil {
				err = fmt.Errorf("recognition %s", res.Outcome)
			}
			warnings = append(warnings, newWarning(res.NodeIndex, StageRecognize, err))
		}
	}

	labelled := lo.CountBy(tree.Nodes, func(n PedigreeNode) bool { return n.HasText() })
	logger.Debug("Tree assembled", "nodes", len(tree.Nodes), "labelled", labelled)
	return warnings
}
