package service

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/flowops/driftd/cmd/driftd/models"
)

// Volatile fields stripped during canonicalization. Root fields change on
// every save or are runtime-only state; node fields are identifiers and
// editor layout that differ between environments holding the same logical
// workflow.
var (
	volatileRootFields = map[string]bool{
		"id":         true,
		"createdAt":  true,
		"updatedAt":  true,
		"versionId":  true,
		"meta":       true,
		"active":     true,
		"pinData":    true,
		"staticData": true,
		"tags":       true,
		"shared":     true,
	}

	volatileNodeFields = map[string]bool{
		"id":               true,
		"webhookId":        true,
		"notes":            true,
		"notesInFlow":      true,
		"position":         true,
		"positionAbsolute": true,
		"selected":         true,
		"color":            true,
	}
)

// NormalizeWorkflow returns a canonical copy of a workflow document:
// volatile root and node fields stripped, nodes sorted by name so array
// order never affects the result. The input is not mutated, and missing
// optional fields are treated as absent, never as an error.
func NormalizeWorkflow(doc models.WorkflowDocument) models.WorkflowDocument {
	normalized := make(models.WorkflowDocument, len(doc))

	for key, value := range doc {
		if volatileRootFields[key] {
			continue
		}
		if key == "nodes" {
			normalized[key] = normalizeNodes(value)
			continue
		}
		normalized[key] = value
	}

	return normalized
}

// ContentHash computes the stable content hash of a workflow document
// over its canonical form. Identical logical workflows hash identically
// regardless of field ordering or node array order.
func ContentHash(doc models.WorkflowDocument) string {
	canonical := NormalizeWorkflow(doc)

	// encoding/json marshals map keys in sorted order, which is exactly
	// the canonical serialization needed for a stable hash.
	payload, err := json.Marshal(canonical)
	if err != nil {
		// Unreachable for documents decoded from JSON; keeps the function
		// total for hand-built maps carrying unmarshalable values.
		payload = []byte(fmt.Sprint(canonical))
	}

	hash := sha256.Sum256(payload)
	return fmt.Sprintf("sha256:%x", hash)
}

// NormalizeNode strips volatile fields from a single node map
func NormalizeNode(node map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(node))
	for key, value := range node {
		if volatileNodeFields[key] {
			continue
		}
		out[key] = value
	}
	return out
}

func normalizeNodes(value interface{}) []interface{} {
	rawNodes, ok := value.([]interface{})
	if !ok {
		return []interface{}{}
	}

	nodes := make([]interface{}, 0, len(rawNodes))
	for _, raw := range rawNodes {
		node, ok := raw.(map[string]interface{})
		if !ok {
			nodes = append(nodes, raw)
			continue
		}
		nodes = append(nodes, NormalizeNode(node))
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		return nodeName(nodes[i]) < nodeName(nodes[j])
	})

	return nodes
}

func nodeName(node interface{}) string {
	m, ok := node.(map[string]interface{})
	if !ok {
		return ""
	}
	name, _ := m["name"].(string)
	return name
}
