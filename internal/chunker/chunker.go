// Package chunker splits markdown documents into knowledge-sized sections.
package chunker

import (
	"strings"
)

const (
	DefaultTargetSize = 400
	DefaultMinSize    = 100
	DefaultMaxSize    = 600
)

// Options bounds section sizes in bytes.
type Options struct {
	TargetSize int
	MinSize    int
	MaxSize    int
}

// DefaultOptions returns the default section sizes.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		MinSize:    DefaultMinSize,
		MaxSize:    DefaultMaxSize,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TargetSize <= 0 {
		o.TargetSize = d.TargetSize
	}
	if o.MaxSize <= 0 {
		o.MaxSize = max(d.MaxSize, o.TargetSize)
	}
	if o.MaxSize < o.TargetSize {
		o.MaxSize = o.TargetSize
	}
	if o.MinSize < 0 || o.MinSize > o.TargetSize {
		o.MinSize = 0
	}
	return o
}

// Section is one piece of a document with the heading it falls under and
// its 1-based line range in the source.
type Section struct {
	Text      string
	Heading   string
	StartLine int
	EndLine   int
}

// Split breaks text into sections on headings and blank lines, merging
// small neighbors up to TargetSize and cutting anything over MaxSize.
// Text that already fits in MaxSize is returned whole.
func Split(text string, opts Options) []Section {
	opts = opts.withDefaults()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if len(text) <= opts.MaxSize {
		return []Section{{
			Text:      text,
			Heading:   firstHeading(text),
			StartLine: 1,
			EndLine:   strings.Count(text, "\n") + 1,
		}}
	}

	sections := merge(splitBlocks(text), opts)
	return absorbTail(sections, opts)
}

// block is a run of lines between boundaries.
type block struct {
	text      string
	heading   string
	startLine int
	endLine   int
}

func splitBlocks(text string) []block {
	lines := strings.Split(text, "\n")
	var (
		blocks  []block
		current []string
		heading string
		start   = 1
	)

	flush := func(end int) {
		t := strings.TrimSpace(strings.Join(current, "\n"))
		if t != "" {
			blocks = append(blocks, block{text: t, heading: heading, startLine: start, endLine: end})
		}
		current = nil
		start = end + 1
	}

	// A heading stays attached to the paragraph below it.
	headingOnly := false
	for i, line := range lines {
		n := i + 1
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			if headingOnly {
				current = append(current, line)
				continue
			}
			flush(n - 1)
			start = n + 1
			continue
		}
		if h, ok := parseHeading(trimmed); ok {
			flush(n - 1)
			heading = h
			headingOnly = true
		} else {
			headingOnly = false
		}
		current = append(current, line)
	}
	flush(len(lines))
	return blocks
}

func merge(blocks []block, opts Options) []Section {
	var (
		out   []Section
		accum block
	)

	flush := func() {
		if accum.text == "" {
			return
		}
		if len(accum.text) > opts.MaxSize {
			out = append(out, cut(accum, opts)...)
		} else {
			out = append(out, Section{
				Text:      accum.text,
				Heading:   accum.heading,
				StartLine: accum.startLine,
				EndLine:   accum.endLine,
			})
		}
		accum = block{}
	}

	for _, b := range blocks {
		if accum.text == "" {
			accum = b
			continue
		}
		combined := accum.text + "\n\n" + b.text
		if len(combined) <= opts.TargetSize {
			accum.text = combined
			accum.endLine = b.endLine
			continue
		}
		flush()
		accum = b
	}
	flush()
	return out
}

// cut splits an oversized block on line boundaries, and overlong lines on
// word boundaries.
func cut(b block, opts Options) []Section {
	var (
		out     []Section
		current []string
		size    int
		start   = b.startLine
	)

	emit := func(end int) {
		t := strings.TrimSpace(strings.Join(current, "\n"))
		if t != "" {
			out = append(out, Section{Text: t, Heading: b.heading, StartLine: start, EndLine: end})
		}
		current, size = nil, 0
	}

	for i, line := range strings.Split(b.text, "\n") {
		n := b.startLine + i
		if size+len(line) > opts.TargetSize && len(current) > 0 {
			emit(n - 1)
			start = n
		}
		if len(line) > opts.MaxSize {
			for _, piece := range wrapWords(line, opts.TargetSize) {
				current = append(current, piece)
				emit(n)
			}
			start = n + 1
			continue
		}
		current = append(current, line)
		size += len(line) + 1
	}
	emit(b.startLine + strings.Count(b.text, "\n"))
	return out
}

// wrapWords splits a single line into pieces of at most size bytes where
// word boundaries allow it.
func wrapWords(line string, size int) []string {
	var (
		out []string
		sb  strings.Builder
	)
	for _, w := range strings.Fields(line) {
		if sb.Len() > 0 && sb.Len()+1+len(w) > size {
			out = append(out, sb.String())
			sb.Reset()
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(w)
	}
	if sb.Len() > 0 {
		out = append(out, sb.String())
	}
	return out
}

// absorbTail folds a final section shorter than MinSize into its
// predecessor when they share a heading and fit in MaxSize.
func absorbTail(s []Section, opts Options) []Section {
	if len(s) < 2 || opts.MinSize == 0 {
		return s
	}
	last, prev := s[len(s)-1], &s[len(s)-2]
	if len(last.Text) >= opts.MinSize || last.Heading != prev.Heading {
		return s
	}
	combined := prev.Text + "\n\n" + last.Text
	if len(combined) > opts.MaxSize {
		return s
	}
	prev.Text = combined
	prev.EndLine = last.EndLine
	return s[:len(s)-1]
}

func parseHeading(line string) (string, bool) {
	if !strings.HasPrefix(line, "#") {
		return "", false
	}
	h := strings.TrimLeft(line, "#")
	if h != "" && h[0] != ' ' && h[0] != '\t' {
		return "", false
	}
	return strings.TrimSpace(h), true
}

func firstHeading(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if h, ok := parseHeading(strings.TrimSpace(line)); ok {
			return h
		}
	}
	return ""
}
