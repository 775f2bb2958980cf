// Package generate compiles cluster entities into load balancer
// configuration text. Output covers listener and pool sections only;
// global and defaults sections belong to the agent's local file and are
// never emitted.
package generate

import (
	"fmt"
	"strings"
)

// ConfigBuilder accumulates configuration lines. Sections start at
// column zero, directives and comments inside a section are indented.
type ConfigBuilder struct {
	lines []string
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{lines: make([]string, 0, 100)}
}

// Line appends a raw unindented line.
func (b *ConfigBuilder) Line(format string, args ...any) {
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

// Section starts a named section, e.g. Section("frontend", "web").
func (b *ConfigBuilder) Section(keyword, name string) {
	b.lines = append(b.lines, keyword+" "+name)
}

// Directive appends an indented directive line.
func (b *ConfigBuilder) Directive(format string, args ...any) {
	b.lines = append(b.lines, "    "+fmt.Sprintf(format, args...))
}

// Comment appends an indented comment line.
func (b *ConfigBuilder) Comment(format string, args ...any) {
	b.lines = append(b.lines, "    # "+fmt.Sprintf(format, args...))
}

// Warning appends an indented warning comment. Warnings are part of
// the output text so operators reviewing a version see them in place.
func (b *ConfigBuilder) Warning(format string, args ...any) {
	b.lines = append(b.lines, "    # WARNING: "+fmt.Sprintf(format, args...))
}

// Banner appends an unindented comment line.
func (b *ConfigBuilder) Banner(text string) {
	b.lines = append(b.lines, "# "+text)
}

func (b *ConfigBuilder) Blank() {
	b.lines = append(b.lines, "")
}

// Build returns the accumulated text, newline terminated.
func (b *ConfigBuilder) Build() string {
	return strings.Join(b.lines, "\n") + "\n"
}
