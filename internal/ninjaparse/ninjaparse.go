// Copyright 2025 The nix-ninja Authors
// SPDX-License-Identifier: MIT

// Package ninjaparse loads a build.ninja file into a
// [ninjagraph.Graph]. It implements the subset of the Ninja manifest
// language the orchestrator needs to extract per-edge commands,
// descriptions, deps hints, and input/output file lists: top-level
// variables, rule declarations, build edges (with implicit,
// order-only, and validation inputs), defaults, and "$" escapes with
// line continuation. Pools are skipped; include and subninja are
// rejected.
package ninjaparse

import (
	"fmt"
	"os"
	"strings"

	"github.com/smpdt/nix-ninja/internal/ninjagraph"
)

// Manifest is the result of loading a build file.
type Manifest struct {
	Graph    *ninjagraph.Graph
	Defaults []ninjagraph.FileID
}

// Load reads and parses the build file at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// Parse parses data as a Ninja manifest. filename is used in error
// messages only.
func Parse(filename string, data []byte) (*Manifest, error) {
	p := &parser{
		filename: filename,
		graph:    ninjagraph.New(),
		env:      make(map[string]string),
		rules:    map[string]map[string]string{"phony": {}},
	}
	if err := p.parse(logicalLines(string(data))); err != nil {
		return nil, err
	}
	return &Manifest{Graph: p.graph, Defaults: p.defaults}, nil
}

type line struct {
	num      int
	indented bool
	text     string
}

// logicalLines splits data into lines, joining "$"-continued lines and
// dropping blanks and comments.
func logicalLines(data string) []line {
	var lines []line
	raw := strings.Split(data, "\n")
	for i := 0; i < len(raw); i++ {
		num := i + 1
		text := raw[i]
		for hasContinuation(text) && i+1 < len(raw) {
			i++
			text = text[:len(text)-1] + strings.TrimLeft(raw[i], " \t")
		}
		trimmed := strings.TrimLeft(text, " \t")
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lines = append(lines, line{
			num:      num,
			indented: len(trimmed) < len(text),
			text:     trimmed,
		})
	}
	return lines
}

// hasContinuation reports whether text ends with an unescaped "$":
// an odd-length run of trailing dollar signs.
func hasContinuation(text string) bool {
	n := 0
	for n < len(text) && text[len(text)-1-n] == '$' {
		n++
	}
	return n%2 == 1
}

type parser struct {
	filename string
	graph    *ninjagraph.Graph
	env      map[string]string
	rules    map[string]map[string]string
	defaults []ninjagraph.FileID
}

func (p *parser) errorf(num int, format string, args ...any) error {
	return fmt.Errorf("%s:%d: %s", p.filename, num, fmt.Sprintf(format, args...))
}

func (p *parser) parse(lines []line) error {
	for i := 0; i < len(lines); i++ {
		ln := lines[i]
		if ln.indented {
			return p.errorf(ln.num, "unexpected indent")
		}
		word, rest, _ := strings.Cut(ln.text, " ")
		switch word {
		case "rule":
			block, next := indentedBlock(lines, i+1)
			if err := p.parseRule(ln, strings.TrimSpace(rest), block); err != nil {
				return err
			}
			i = next - 1
		case "build":
			block, next := indentedBlock(lines, i+1)
			if err := p.parseBuild(ln, rest, block); err != nil {
				return err
			}
			i = next - 1
		case "default":
			for _, tok := range splitPaths(rest) {
				name := p.expand(tok, nil)
				fid := p.graph.AddFile(name)
				p.defaults = append(p.defaults, fid)
			}
		case "pool":
			_, next := indentedBlock(lines, i+1)
			i = next - 1
		case "include", "subninja":
			return p.errorf(ln.num, "%s is not supported", word)
		default:
			name, value, ok := cutAssignment(ln.text)
			if !ok {
				return p.errorf(ln.num, "expected rule, build, default, or variable, got %q", ln.text)
			}
			p.env[name] = p.expand(value, nil)
		}
	}
	return nil
}

// indentedBlock returns the indented lines starting at i and the index
// of the first line after them.
func indentedBlock(lines []line, i int) ([]line, int) {
	start := i
	for i < len(lines) && lines[i].indented {
		i++
	}
	return lines[start:i], i
}

func (p *parser) parseRule(decl line, name string, block []line) error {
	if name == "" {
		return p.errorf(decl.num, "rule without a name")
	}
	if _, exists := p.rules[name]; exists {
		return p.errorf(decl.num, "duplicate rule %q", name)
	}
	vars := make(map[string]string, len(block))
	for _, ln := range block {
		key, value, ok := cutAssignment(ln.text)
		if !ok {
			return p.errorf(ln.num, "expected variable assignment in rule %q", name)
		}
		// Rule variables stay unexpanded until a build edge
		// instantiates them with its own bindings and $in/$out.
		vars[key] = value
	}
	p.rules[name] = vars
	return nil
}

func (p *parser) parseBuild(decl line, rest string, block []line) error {
	outsPart, insPart, ok := cutUnescaped(rest, ':')
	if !ok {
		return p.errorf(decl.num, "expected ':' in build line")
	}

	// Implicit outputs (after "|") are tracked the same as explicit
	// ones: every output identifies the producing edge.
	explicitOut, implicitOut, _ := cutUnescaped(outsPart, '|')
	outs := p.addFiles(explicitOut)
	outs = append(outs, p.addFiles(implicitOut)...)
	if len(outs) == 0 {
		return p.errorf(decl.num, "build line without outputs")
	}

	ruleName, deps := splitRuleName(insPart)
	rule, ok := p.rules[ruleName]
	if !ok {
		return p.errorf(decl.num, "unknown rule %q", ruleName)
	}

	sections := splitDeps(deps)
	explicit := p.addFiles(sections.explicit)
	implicit := p.addFiles(sections.implicit)
	orderOnly := p.addFiles(sections.orderOnly)
	validations := p.addFiles(sections.validations)

	bindings := make(map[string]string, len(block))
	for _, ln := range block {
		key, value, ok := cutAssignment(ln.text)
		if !ok {
			return p.errorf(ln.num, "expected variable assignment in build block")
		}
		bindings[key] = p.expand(value, nil)
	}

	scope := func(name string) string {
		switch name {
		case "in":
			return joinNames(p.graph, explicit)
		case "out":
			return joinNames(p.graph, outs)
		}
		if v, ok := bindings[name]; ok {
			return v
		}
		return p.env[name]
	}

	build := ninjagraph.Build{
		Explicit:    explicit,
		Implicit:    implicit,
		OrderOnly:   orderOnly,
		Validations: validations,
		Outs:        outs,
	}
	if ruleName != "phony" {
		build.Cmdline = p.expand(rule["command"], scope)
		build.Description = ruleVar(rule, bindings, "description", p.expand, scope)
		build.Deps = ruleVar(rule, bindings, "deps", p.expand, scope)
	}
	p.graph.AddBuild(build)
	return nil
}

// ruleVar resolves a rule variable that a build block may override.
func ruleVar(rule, bindings map[string]string, name string, expand func(string, func(string) string) string, scope func(string) string) string {
	if v, ok := bindings[name]; ok {
		return v
	}
	return expand(rule[name], scope)
}

func (p *parser) addFiles(pathList string) []ninjagraph.FileID {
	toks := splitPaths(pathList)
	ids := make([]ninjagraph.FileID, 0, len(toks))
	for _, tok := range toks {
		ids = append(ids, p.graph.AddFile(p.expand(tok, nil)))
	}
	return ids
}

func joinNames(g *ninjagraph.Graph, ids []ninjagraph.FileID) string {
	names := make([]string, len(ids))
	for i, fid := range ids {
		names[i] = g.File(fid).Name
	}
	return strings.Join(names, " ")
}

// expand substitutes "$"-escapes and variable references in s. scope,
// if non-nil, is consulted before the file-level environment.
func (p *parser) expand(s string, scope func(string) string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '$' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch next := s[i]; {
		case next == '$' || next == ' ' || next == ':':
			b.WriteByte(next)
		case next == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				b.WriteString(s[i-1:])
				return b.String()
			}
			b.WriteString(p.lookup(s[i+1:i+end], scope))
			i += end
		case isVarChar(next):
			j := i
			for j < len(s) && isVarChar(s[j]) {
				j++
			}
			b.WriteString(p.lookup(s[i:j], scope))
			i = j - 1
		default:
			b.WriteByte('$')
			b.WriteByte(next)
		}
	}
	return b.String()
}

func (p *parser) lookup(name string, scope func(string) string) string {
	if scope != nil {
		return scope(name)
	}
	return p.env[name]
}

func isVarChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '_' || c == '-'
}

// cutAssignment splits "name = value" at the first unescaped '='.
func cutAssignment(s string) (name, value string, ok bool) {
	eq := strings.IndexByte(s, '=')
	if eq < 0 {
		return "", "", false
	}
	name = strings.TrimSpace(s[:eq])
	if name == "" || strings.ContainsAny(name, " \t") {
		return "", "", false
	}
	return name, strings.TrimSpace(s[eq+1:]), true
}

// cutUnescaped splits s at the first occurrence of sep not preceded by
// an odd run of '$'.
func cutUnescaped(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '$' {
			i++ // skip whatever the '$' escapes
			continue
		}
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// splitRuleName cuts the rule name off the front of a build line's
// input section.
func splitRuleName(s string) (rule, rest string) {
	s = strings.TrimLeft(s, " \t")
	sp := strings.IndexAny(s, " \t")
	if sp < 0 {
		return s, ""
	}
	return s[:sp], s[sp+1:]
}

type depSections struct {
	explicit    string
	implicit    string
	orderOnly   string
	validations string
}

// splitDeps partitions a build line's input list at its unescaped "|",
// "||", and "|@" markers.
func splitDeps(s string) depSections {
	var d depSections
	section := &d.explicit
	for i := 0; i < len(s); i++ {
		if s[i] == '$' {
			*section += s[i : min(i+2, len(s))]
			i++
			continue
		}
		if s[i] != '|' {
			*section += s[i : i+1]
			continue
		}
		switch {
		case i+1 < len(s) && s[i+1] == '|':
			section = &d.orderOnly
			i++
		case i+1 < len(s) && s[i+1] == '@':
			section = &d.validations
			i++
		default:
			section = &d.implicit
		}
	}
	return d
}

// splitPaths splits a space-separated path list, honoring "$ " escapes
// by keeping the escape sequence inside the token for later expansion.
func splitPaths(s string) []string {
	var toks []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '$' && i+1 < len(s):
			cur.WriteByte(c)
			cur.WriteByte(s[i+1])
			i++
		case c == ' ' || c == '\t':
			if cur.Len() > 0 {
				toks = append(toks, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		toks = append(toks, cur.String())
	}
	return toks
}
