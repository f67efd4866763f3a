// internal/browser/widget.go
package browser

import (
	"math"
	"strings"

	"github.com/chromedp/cdproto/cdp"

	"github.com/xkilldash9x/cfclear/api/schemas"
)

const hiddenStyle = "display: none;"

// findWidget walks a pierced DOM tree in document order for the first INPUT
// element. The widget is the first element child of the first shadow root of
// that input's parent. It returns nil when there is no input, the parent has
// no shadow root, or the shadow root has no element child yet.
func findWidget(root *cdp.Node) *schemas.Widget {
	input, parent := firstInput(root, nil)
	if input == nil || parent == nil || len(parent.ShadowRoots) == 0 {
		return nil
	}

	var child *cdp.Node
	for _, n := range parent.ShadowRoots[0].Children {
		if n.NodeType == cdp.NodeTypeElement {
			child = n
			break
		}
	}
	if child == nil {
		return nil
	}

	style, _ := attribute(child, "style")
	return &schemas.Widget{
		BackendNodeID: int64(child.BackendNodeID),
		NodeName:      child.NodeName,
		Hidden:        strings.Contains(style, hiddenStyle),
	}
}

// firstInput is a pre-order walk over light children, then shadow roots, then
// frame documents. It returns the input and its parent node.
func firstInput(n, parent *cdp.Node) (*cdp.Node, *cdp.Node) {
	if n == nil {
		return nil, nil
	}
	if n.NodeType == cdp.NodeTypeElement && strings.EqualFold(n.NodeName, "INPUT") {
		return n, parent
	}
	for _, c := range n.Children {
		if in, p := firstInput(c, n); in != nil {
			return in, p
		}
	}
	for _, sr := range n.ShadowRoots {
		if in, p := firstInput(sr, n); in != nil {
			return in, p
		}
	}
	if in, p := firstInput(n.ContentDocument, n); in != nil {
		return in, p
	}
	return nil, nil
}

func attribute(n *cdp.Node, name string) (string, bool) {
	for i := 0; i+1 < len(n.Attributes); i += 2 {
		if n.Attributes[i] == name {
			return n.Attributes[i+1], true
		}
	}
	return "", false
}

// quadCenter returns the centre of a CDP quad (x1,y1 .. x4,y4). ok is false for
// malformed or zero-area quads.
func quadCenter(q []float64) (x, y float64, ok bool) {
	if len(q) != 8 {
		return 0, 0, false
	}
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for i := 0; i < 8; i += 2 {
		x += q[i]
		y += q[i+1]
		minX, maxX = math.Min(minX, q[i]), math.Max(maxX, q[i])
		minY, maxY = math.Min(minY, q[i+1]), math.Max(maxY, q[i+1])
	}
	if maxX-minX <= 0 || maxY-minY <= 0 {
		return 0, 0, false
	}
	return x / 4, y / 4, true
}
