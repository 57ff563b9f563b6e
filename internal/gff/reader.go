package gff

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
)

// LineKind classifies a meaningful input line.
type LineKind int

const (
	KindFeature LineKind = iota
	KindSequenceRegion
)

// SequenceRegion is a ##sequence-region header. Start and End are as written (1-based).
type SequenceRegion struct {
	ID    string
	Start int64
	End   int64
}

// Sequence is one record from the inline FASTA block.
type Sequence struct {
	ID       string
	Residues []byte
}

// Scanner streams a GFF3 file line by line. Comments, blank lines and
// directives other than ##sequence-region are consumed silently. Scan stops at
// the start of an inline FASTA block; NextSequence then reads its records.
type Scanner struct {
	r      *bufio.Reader
	lineNo int
	text   string
	kind   LineKind
	region SequenceRegion
	err    error

	fasta    bool
	header   string // pending FASTA header, without '>'
	fastaEOF bool
}

func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 64*1024)}
}

// readLine returns the next line without its terminator. ok is false at EOF.
func (s *Scanner) readLine() (string, bool, error) {
	line, err := s.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", false, &ResourceError{Op: "read input", Err: err}
	}
	if line == "" && err != nil {
		return "", false, nil
	}
	s.lineNo++
	return strings.TrimRight(line, "\r\n"), true, nil
}

// Scan advances to the next feature line or sequence-region directive.
func (s *Scanner) Scan() bool {
	if s.err != nil || s.fasta {
		return false
	}
	for {
		line, ok, err := s.readLine()
		if err != nil {
			s.err = err
			return false
		}
		if !ok {
			return false
		}
		switch {
		case strings.TrimSpace(line) == "":
			continue
		case strings.HasPrefix(line, "##FASTA"):
			s.fasta = true
			return false
		case strings.HasPrefix(line, ">"):
			s.fasta = true
			s.header = line[1:]
			if s.header == "" {
				s.header = " "
			}
			return false
		case strings.HasPrefix(line, "##sequence-region"):
			region, err := parseSequenceRegion(s.lineNo, line)
			if err != nil {
				s.err = err
				return false
			}
			s.kind, s.region, s.text = KindSequenceRegion, region, line
			return true
		case strings.HasPrefix(line, "#"):
			continue
		}
		s.kind, s.text = KindFeature, line
		return true
	}
}

func parseSequenceRegion(lineNo int, line string) (SequenceRegion, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return SequenceRegion{}, formatErr(lineNo, "##sequence-region must be \"##sequence-region id start end\"")
	}
	start, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return SequenceRegion{}, &FormatError{Line: lineNo, Rule: "invalid ##sequence-region start", Err: err}
	}
	end, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return SequenceRegion{}, &FormatError{Line: lineNo, Rule: "invalid ##sequence-region end", Err: err}
	}
	return SequenceRegion{ID: fields[1], Start: start, End: end}, nil
}

func (s *Scanner) Kind() LineKind         { return s.kind }
func (s *Scanner) Text() string           { return s.text }
func (s *Scanner) LineNumber() int        { return s.lineNo }
func (s *Scanner) Region() SequenceRegion { return s.region }
func (s *Scanner) Err() error             { return s.err }
func (s *Scanner) InFasta() bool          { return s.fasta }

// NextSequence returns the next FASTA record, or io.EOF when the block is exhausted.
// It must only be called once Scan has returned false with InFasta true.
func (s *Scanner) NextSequence() (*Sequence, error) {
	if !s.fasta {
		return nil, io.EOF
	}
	for s.header == "" {
		if s.fastaEOF {
			return nil, io.EOF
		}
		line, ok, err := s.readLine()
		if err != nil {
			return nil, err
		}
		if !ok {
			s.fastaEOF = true
			return nil, io.EOF
		}
		if strings.HasPrefix(line, ">") {
			s.header = line[1:]
		}
	}

	fields := strings.Fields(s.header)
	s.header = ""
	if len(fields) == 0 {
		return nil, formatErr(s.lineNo, "FASTA header without an identifier")
	}
	seq := &Sequence{ID: fields[0]}
	var buf bytes.Buffer
	for !s.fastaEOF {
		line, ok, err := s.readLine()
		if err != nil {
			return nil, err
		}
		if !ok {
			s.fastaEOF = true
			break
		}
		if strings.HasPrefix(line, ">") {
			s.header = line[1:]
			if s.header == "" {
				s.header = " "
			}
			break
		}
		buf.WriteString(strings.Join(strings.Fields(line), ""))
	}
	seq.Residues = buf.Bytes()
	return seq, nil
}
