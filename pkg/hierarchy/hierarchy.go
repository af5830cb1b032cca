// Package hierarchy parses UI-hierarchy dump attachments into
// structured snapshots for timeline display.
package hierarchy

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Frame is an element's rectangle in screen points.
type Frame struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Element is one row of a parsed hierarchy dump.
type Element struct {
	Depth      int
	Role       string
	Name       string
	Label      string
	Identifier string
	Value      string
	Frame      Frame
	Properties map[string]string
}

// Snapshot is one parsed UI-hierarchy dump. It is independent of the
// activity tree beyond the timestamp it is associated with.
type Snapshot struct {
	Label             string
	Time              *float64
	Width             float64
	Height            float64
	FailureAssociated bool
	Elements          []Element
}

// framePattern matches the dump's rect form: {{x, y}, {w, h}}.
var framePattern = regexp.MustCompile(
	`\{\{(-?[\d.]+),\s*(-?[\d.]+)\},\s*\{(-?[\d.]+),\s*(-?[\d.]+)\}\}`,
)

// attrPattern matches trailing attributes of the form key: 'value'.
var attrPattern = regexp.MustCompile(`(\w+):\s*'((?:[^'\\]|\\.)*)'`)

// indentWidth is the dump's spaces-per-level indentation.
const indentWidth = 2

// ParseSnapshot parses the text form of a hierarchy dump. Unparsable
// lines are skipped; an empty dump is an error.
func ParseSnapshot(
	label string, timestamp *float64, failureAssociated bool, text string,
) (*Snapshot, error) {
	snap := &Snapshot{
		Label:             label,
		Time:              timestamp,
		FailureAssociated: failureAssociated,
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		elem, ok := parseLine(line)
		if !ok {
			continue
		}

		// The first (shallowest) element with a frame defines the
		// snapshot's overall bounds.
		if len(snap.Elements) == 0 {
			snap.Width = elem.Frame.Width
			snap.Height = elem.Frame.Height
		}

		snap.Elements = append(snap.Elements, elem)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading hierarchy dump: %w", err)
	}

	if len(snap.Elements) == 0 {
		return nil, fmt.Errorf("hierarchy dump %q has no parsable elements", label)
	}

	return snap, nil
}

// parseLine parses one dump row:
//
//	Button, 0x14f60b790, {{20.0, 100.0}, {80.0, 44.0}}, identifier: 'login', label: 'Log in'
func parseLine(line string) (Element, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" {
		return Element{}, false
	}

	elem := Element{
		Depth:      (len(line) - len(trimmed)) / indentWidth,
		Properties: map[string]string{},
	}

	role, rest, _ := strings.Cut(trimmed, ",")

	elem.Role = strings.TrimSpace(role)
	if elem.Role == "" || strings.ContainsAny(elem.Role, "{}'") {
		return Element{}, false
	}

	if m := framePattern.FindStringSubmatch(rest); m != nil {
		elem.Frame = Frame{
			X:      parseFloat(m[1]),
			Y:      parseFloat(m[2]),
			Width:  parseFloat(m[3]),
			Height: parseFloat(m[4]),
		}
	}

	for _, m := range attrPattern.FindAllStringSubmatch(rest, -1) {
		key, value := m[1], unescape(m[2])

		switch key {
		case "label":
			elem.Label = value
		case "identifier":
			elem.Identifier = value
		case "value":
			elem.Value = value
		case "name":
			elem.Name = value
		default:
			elem.Properties[key] = value
		}
	}

	return elem, true
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)

	return v
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, `\'`, `'`)

	return strings.ReplaceAll(s, `\\`, `\`)
}
