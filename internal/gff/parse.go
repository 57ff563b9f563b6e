package gff

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry answers which uniquenames the run has already registered.
// The feature cache implements it.
type Registry interface {
	Has(uniquename string) bool
	IsPlaceholder(uniquename string) bool
}

// ParserOptions carries the configuration the line parser depends on.
type ParserOptions struct {
	AltIDAttr    string
	TargetType   string
	SourceDbxref bool
}

// reserved attributes are decoded into dedicated Feature fields; every other
// key becomes a property.
var reserved = map[string]bool{
	"ID":              true,
	"Name":            true,
	"Alias":           true,
	"Parent":          true,
	"Target":          true,
	"Derives_from":    true,
	"Dbxref":          true,
	"Ontology_term":   true,
	"organism":        true,
	"target_organism": true,
	"target_type":     true,
}

// singleValued attributes may carry exactly one value per feature.
var singleValued = []string{"Target", "Derives_from", "organism", "Gap"}

var partSuffix = regexp.MustCompile(`_part_\d+$`)

// Parser turns GFF3 feature lines into Features.
type Parser struct {
	opts ParserOptions
	reg  Registry
}

func NewParser(opts ParserOptions, reg Registry) *Parser {
	return &Parser{opts: opts, reg: reg}
}

// ParseLine parses one feature line. A line yields one Feature, or two when a
// first alignment line produces both its match aggregate and a match_part.
// A target placeholder, when needed, is returned ahead of the features.
func (p *Parser) ParseLine(lineNo int, line string) ([]*Feature, error) {
	line = strings.TrimRight(line, "\r\n")
	cols := strings.Split(line, "\t")
	if len(cols) != 9 {
		return nil, formatErr(lineNo, "expected 9 tab-separated columns, found %d", len(cols))
	}

	rawType := strings.TrimSpace(cols[2])
	f := &Feature{
		Line:     lineNo,
		Landmark: cols[0],
		Source:   cols[1],
		Type:     strings.ToLower(rawType),
	}
	if f.Landmark == "" || f.Type == "" {
		return nil, formatErr(lineNo, "landmark and type columns must not be empty")
	}

	start, stop, err := parseSpan(cols[3], cols[4])
	if err != nil {
		return nil, &FormatError{Line: lineNo, Rule: "invalid coordinates", Err: err}
	}
	f.Start, f.Stop = start, stop

	if cols[5] != "." && cols[5] != "" {
		score, err := strconv.ParseFloat(cols[5], 64)
		if err != nil {
			return nil, &FormatError{Line: lineNo, Rule: "invalid score", Err: err}
		}
		f.Score = &score
	}

	if f.Strand, err = ParseStrand(cols[6]); err != nil {
		return nil, &FormatError{Line: lineNo, Rule: "invalid strand", Err: err}
	}
	if f.Phase, err = ParsePhase(cols[7], f.IsCDS()); err != nil {
		return nil, &FormatError{Line: lineNo, Rule: "invalid phase", Err: err}
	}

	attrs, err := ParseAttributes(cols[8])
	if err != nil {
		return nil, &FormatError{Line: lineNo, Rule: "malformed attributes", Err: err}
	}
	f.Attrs = attrs
	for _, key := range singleValued {
		if v, ok := attrs.Get(key); ok && len(v) > 1 {
			return nil, formatErr(lineNo, "multiple %s attributes", key)
		}
	}
	if err := p.decodeReserved(f); err != nil {
		return nil, err
	}
	p.assignNames(f)

	if f.Target, err = p.parseTarget(f, rawType); err != nil {
		return nil, err
	}

	var out []*Feature
	if IsMatchType(f.Type) {
		out, err = p.splitMatch(f)
	} else {
		out, err = p.resolveCollision(f)
	}
	if err != nil {
		return nil, err
	}
	if ph := p.placeholderFor(out); ph != nil {
		out = append([]*Feature{ph}, out...)
	}
	return out, nil
}

// parseSpan converts 1-based inclusive columns 4 and 5, in either order, into
// a 0-based half-open interval.
func parseSpan(a, b string) (int64, int64, error) {
	x, err := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return min(x, y) - 1, max(x, y), nil
}

// ParseStrand maps a strand column to +1, 0 or -1.
func ParseStrand(s string) (int, error) {
	switch s {
	case "+":
		return 1, nil
	case "-":
		return -1, nil
	case ".", "?":
		return 0, nil
	}
	return 0, fmt.Errorf("%q is not one of + - . ?", s)
}

// ParsePhase validates a phase column. Only CDS features keep a phase, and an
// unset CDS phase defaults to "0".
func ParsePhase(s string, cds bool) (string, error) {
	switch s {
	case ".":
		if cds {
			return "0", nil
		}
		return "", nil
	case "0", "1", "2":
		if cds {
			return s, nil
		}
		return "", nil
	}
	return "", fmt.Errorf("%q is not one of . 0 1 2", s)
}

// ParseAttributes decodes column 9 into an ordered multimap. Repeated keys
// accumulate their values.
func ParseAttributes(col string) (*Attributes, error) {
	attrs := orderedmap.New[string, []string]()
	col = strings.TrimSpace(col)
	if col == "" || col == "." {
		return attrs, nil
	}
	for _, pair := range strings.Split(col, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("attribute %q is not key=value", pair)
		}
		existing, _ := attrs.Get(key)
		for _, v := range strings.Split(raw, ",") {
			decoded, err := url.PathUnescape(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("attribute %s: %w", key, err)
			}
			existing = append(existing, decoded)
		}
		attrs.Set(key, existing)
	}
	return attrs, nil
}

func (p *Parser) decodeReserved(f *Feature) error {
	var ranks map[string]int
	for pair := f.Attrs.Oldest(); pair != nil; pair = pair.Next() {
		key, values := pair.Key, pair.Value
		switch key {
		case "Parent":
			f.Parents = append(f.Parents, values...)
		case "Alias":
			f.Synonyms = append(f.Synonyms, values...)
		case "Derives_from":
			f.DerivesFrom = values[0]
		case "organism":
			if _, _, err := SplitOrganism(values[0]); err != nil {
				return &FormatError{Line: f.Line, Rule: "invalid organism attribute", Err: err}
			}
			f.Organism = values[0]
		case "Dbxref", "Ontology_term":
			for _, v := range values {
				k, err := ParseDbxrefKey(v)
				if err != nil {
					return &FormatError{Line: f.Line, Rule: "invalid " + key, Err: err}
				}
				if key == "Dbxref" {
					f.Dbxrefs = append(f.Dbxrefs, k)
				} else {
					f.Terms = append(f.Terms, k)
				}
			}
		default:
			if reserved[key] {
				continue
			}
			if ranks == nil {
				ranks = make(map[string]int)
			}
			for _, v := range values {
				f.Properties = append(f.Properties, Property{Key: key, Value: v, Rank: ranks[key]})
				ranks[key]++
			}
		}
	}
	if p.opts.SourceDbxref && f.Source != "." && f.Source != "" {
		f.Dbxrefs = append(f.Dbxrefs, DbxrefKey{DB: "GFF_source", Accession: f.Source})
	}
	return nil
}

// assignNames derives name and uniquename from ID, Name, the alternate ID
// attribute or, failing those, the feature's position.
func (p *Parser) assignNames(f *Feature) {
	ids, hasID := f.Attrs.Get("ID")
	names, hasName := f.Attrs.Get("Name")
	hasID = hasID && len(ids) > 0 && ids[0] != ""
	hasName = hasName && len(names) > 0 && names[0] != ""

	switch {
	case !hasID && !hasName:
		if alt, ok := f.Attrs.Get(p.opts.AltIDAttr); p.opts.AltIDAttr != "" && ok && len(alt) > 0 {
			f.Uniquename, f.Name = alt[0], alt[0]
			return
		}
		loc := fmt.Sprintf("%s:%d..%d", f.Landmark, f.Start+1, f.Stop)
		if parent := f.Parent(); parent != "" {
			f.Uniquename = parent + "-" + f.Type + "-" + loc
			f.Name = parent + "-" + f.Type
			return
		}
		f.Uniquename = f.Type + "-" + loc
		f.Name = f.Type + "-" + f.Landmark
	case !hasName:
		f.Uniquename, f.Name = ids[0], ids[0]
	case !hasID:
		f.Uniquename, f.Name = names[0], names[0]
	default:
		f.Uniquename, f.Name = ids[0], names[0]
	}
}

func (p *Parser) parseTarget(f *Feature, rawType string) (*Target, error) {
	values, ok := f.Attrs.Get("Target")
	if !ok {
		return nil, nil
	}
	fields := strings.Fields(values[0])
	if len(fields) != 3 && len(fields) != 4 {
		return nil, formatErr(f.Line, "Target must be \"name start stop [strand]\", got %q", values[0])
	}
	start, stop, err := parseSpan(fields[1], fields[2])
	if err != nil {
		return nil, &FormatError{Line: f.Line, Rule: "invalid Target coordinates", Err: err}
	}
	t := &Target{Name: fields[0], Start: start, Stop: stop, Phase: f.Phase}
	if len(fields) == 4 {
		if t.Strand, err = ParseStrand(fields[3]); err != nil {
			return nil, &FormatError{Line: f.Line, Rule: "invalid Target strand", Err: err}
		}
	}

	if org, ok := f.Attrs.Get("target_organism"); ok && len(org) > 0 {
		if _, _, err := SplitOrganism(org[0]); err != nil {
			return nil, &FormatError{Line: f.Line, Rule: "invalid target_organism", Err: err}
		}
		t.Organism = org[0]
	}
	if tt, ok := f.Attrs.Get("target_type"); ok && len(tt) > 0 {
		t.Type = strings.ToLower(tt[0])
	} else if p.opts.TargetType != "" {
		t.Type = strings.ToLower(p.opts.TargetType)
	} else if prefix, ok := strings.CutSuffix(rawType, "_match"); ok && prefix != "" {
		t.Type = strings.ToLower(prefix)
	}
	return t, nil
}

// splitMatch implements alignment splitting: the first line of an alignment
// registers the aggregate and its first part, later lines add further parts.
// An aggregate named like an earlier target placeholder supersedes it.
func (p *Parser) splitMatch(f *Feature) ([]*Feature, error) {
	candidate := partSuffix.ReplaceAllString(f.Uniquename, "")
	if p.reg.Has(candidate) && !p.reg.IsPlaceholder(candidate) {
		part := p.asPart(f, candidate, p.reg.Has)
		return []*Feature{part}, nil
	}

	agg := *f
	agg.Uniquename = candidate
	agg.Dbxrefs = nil
	agg.Synonyms = nil
	agg.Terms = nil
	agg.DerivesFrom = ""
	agg.Properties = nil
	agg.Target = nil

	// The aggregate is not in the registry yet.
	taken := func(u string) bool { return u == candidate || p.reg.Has(u) }
	part := p.asPart(f, candidate, taken)
	return []*Feature{&agg, part}, nil
}

func (p *Parser) asPart(f *Feature, aggregate string, taken func(string) bool) *Feature {
	part := *f
	part.Type = "match_part"
	part.Parents = []string{aggregate}
	if part.Uniquename == aggregate || taken(part.Uniquename) {
		for n := 1; ; n++ {
			u := fmt.Sprintf("%s_part_%d", aggregate, n)
			if !taken(u) {
				part.Uniquename = u
				break
			}
		}
	}
	return &part
}

// resolveCollision applies the duplicate identifier policy.
func (p *Parser) resolveCollision(f *Feature) ([]*Feature, error) {
	if !p.reg.Has(f.Uniquename) {
		return []*Feature{f}, nil
	}
	switch {
	case len(f.Parents) > 0:
		base := f.Uniquename
		for n := 2; ; n++ {
			u := base + "_" + strconv.Itoa(n)
			if !p.reg.Has(u) {
				f.Uniquename = u
				break
			}
		}
	case p.reg.IsPlaceholder(f.Uniquename):
		// supersedes the placeholder
	default:
		return nil, &IntegrityError{Line: f.Line, Uniquename: f.Uniquename}
	}
	return []*Feature{f}, nil
}

// placeholderFor returns a placeholder for the first unseen target among out.
func (p *Parser) placeholderFor(out []*Feature) *Feature {
	for _, f := range out {
		t := f.Target
		if t == nil || p.reg.Has(t.Name) {
			continue
		}
		self := false
		for _, g := range out {
			if g.Uniquename == t.Name {
				self = true
			}
		}
		if self {
			continue
		}
		return &Feature{
			Line:        f.Line,
			Type:        t.Type,
			Uniquename:  t.Name,
			Name:        t.Name,
			Organism:    t.Organism,
			Placeholder: true,
		}
	}
	return nil
}
