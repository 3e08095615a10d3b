// Package corpus reads token-per-line sequence data for training and tagging.
//
// Each non-blank line is one token: whitespace separated features, followed
// by the label when the data is labeled. Blank lines end a sequence. A line
// "# group: NAME" puts the following sequences in group NAME (used for
// grouped cross-validation); other lines starting with "#" are comments.
package corpus

import (
	"bufio"
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/happyhackingspace/seqcrf/crf"
)

const groupPrefix = "# group:"

// Sequence is one blank-line delimited block of tokens.
type Sequence struct {
	Name   string     // source:line of the first token
	Group  string     // from the nearest preceding group line
	Lines  []string   // raw token lines
	Tokens [][]string // features per token
	Labels []string   // nil for unlabeled data
}

// Len returns the number of tokens.
func (s *Sequence) Len() int { return len(s.Tokens) }

// Features returns the binary feature maps of every token.
func (s *Sequence) Features() []map[string]float64 {
	out := make([]map[string]float64, len(s.Tokens))
	for i, tok := range s.Tokens {
		m := make(map[string]float64, len(tok))
		for _, f := range tok {
			m[f] = 1
		}
		out[i] = m
	}
	return out
}

// TrainingSequence converts a labeled sequence for the crf package.
func (s *Sequence) TrainingSequence() crf.TrainingSequence {
	return crf.TrainingSequence{
		Name:     s.Name,
		Features: s.Features(),
		Labels:   s.Labels,
	}
}

// ReadOptions controls how sequences are read.
type ReadOptions struct {
	Labeled        bool // last column of every token is its label
	DropDuplicates bool // skip sequences identical to an earlier one
	Source         string
}

// DefaultReadOptions returns the options for reading labeled training data.
func DefaultReadOptions() ReadOptions {
	return ReadOptions{
		Labeled:        true,
		DropDuplicates: true,
	}
}

// Read parses all sequences from r.
func Read(r io.Reader, opts ReadOptions) ([]Sequence, error) {
	source := opts.Source
	if source == "" {
		source = "input"
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var (
		seqs    []Sequence
		cur     *Sequence
		group   string
		lineNo  int
		seen    = make(map[[md5.Size]byte]bool)
		dropped int
	)
	flush := func() {
		if cur == nil {
			return
		}
		if opts.DropDuplicates {
			sum := md5.Sum([]byte(strings.Join(cur.Lines, "\n")))
			if seen[sum] {
				dropped++
				cur = nil
				return
			}
			seen[sum] = true
		}
		seqs = append(seqs, *cur)
		cur = nil
	}

	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			if name, ok := strings.CutPrefix(trimmed, groupPrefix); ok {
				flush()
				group = strings.TrimSpace(name)
			}
			continue
		}
		fields := strings.Fields(trimmed)
		if cur == nil {
			cur = &Sequence{Name: fmt.Sprintf("%s:%d", source, lineNo), Group: group}
		}
		cur.Lines = append(cur.Lines, line)
		if opts.Labeled {
			cur.Labels = append(cur.Labels, fields[len(fields)-1])
			fields = fields[:len(fields)-1]
		}
		cur.Tokens = append(cur.Tokens, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("corpus: %s line %d: %w", source, lineNo, err)
	}
	flush()
	if dropped > 0 {
		slog.Debug("Dropped duplicate sequences", "source", source, "count", dropped)
	}
	return seqs, nil
}

// ReadFile reads sequences from the named file.
func ReadFile(path string, opts ReadOptions) ([]Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	if opts.Source == "" {
		opts.Source = path
	}
	return Read(f, opts)
}

// TrainingSequences converts labeled sequences for the crf package.
func TrainingSequences(seqs []Sequence) []crf.TrainingSequence {
	out := make([]crf.TrainingSequence, len(seqs))
	for i := range seqs {
		out[i] = seqs[i].TrainingSequence()
	}
	return out
}

// Groups numbers the distinct groups of seqs in order of first appearance.
// Sequences without a group each get their own.
func Groups(seqs []Sequence) []int {
	groups := make([]int, len(seqs))
	ids := make(map[string]int)
	next := 0
	for i, s := range seqs {
		if s.Group == "" {
			groups[i] = next
			next++
			continue
		}
		id, ok := ids[s.Group]
		if !ok {
			id = next
			ids[s.Group] = id
			next++
		}
		groups[i] = id
	}
	return groups
}

// WriteTagged writes each raw token line of seq followed by a tab and its
// predicted label, then a blank line.
func WriteTagged(w io.Writer, seq *Sequence, labels []string) error {
	bw := bufio.NewWriter(w)
	for i, line := range seq.Lines {
		if _, err := fmt.Fprintf(bw, "%s\t%s\n", line, labels[i]); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("\n"); err != nil {
		return err
	}
	return bw.Flush()
}
