// Package query turns a raw search string plus optional structured filters
// into an immutable Query. Parsing never fails: unrecognized input simply
// falls through as free text.
//
// The extension heuristics are a data-driven ordered pattern list so new
// phrasings can be added without touching control flow. Patterns run in
// priority order and the first match for a given span of text wins.
package query

import (
	"regexp"
	"sort"
	"strings"
)

// Query is the normalized, immutable representation of a search request
// after natural-language and structured-filter interpretation. Build one
// with Parse; do not mutate it afterwards.
type Query struct {
	// RawText is the original query exactly as given.
	RawText string

	// FreeText is RawText with recognized structured tokens stripped.
	// Backends use this as their native full-text search string.
	FreeText string

	// Extensions holds normalized file extensions with leading dot,
	// e.g. ".csv". Populated by heuristics only when ExplicitFieldQuery
	// does not already encode an extension constraint; the two paths are
	// mutually exclusive to avoid double-filtering.
	Extensions []string

	// ExplicitFieldQuery is a backend-native field expression captured
	// verbatim from the caller (e.g. "ext:.csv"). Empty if none.
	ExplicitFieldQuery string

	// Buckets restricts the search to these buckets. Nil means
	// catalog-wide.
	Buckets []string
}

// Filters are the structured filters accepted alongside the raw query
// string. Both the singular Bucket and plural Buckets spellings are
// accepted and normalized to one internal representation; callers have
// historically sent either.
type Filters struct {
	// Bucket is the singular bucket spelling.
	Bucket string

	// Buckets is the plural spelling. When both are set the union is used.
	Buckets []string

	// Extensions is an explicit extension filter. Entries are normalized
	// to a leading dot. When set, text heuristics for extensions are
	// skipped entirely.
	Extensions []string

	// Expression is a backend-native filter expression passed through
	// verbatim (e.g. "ext:.csv"). When it encodes an extension
	// constraint, extension heuristics are bypassed.
	Expression string
}

// extensionPattern is one entry in the ordered heuristic table. The first
// capture group must yield a comma/or/and separated list of extension
// tokens. bareNoun patterns additionally require every token to be a known
// data extension so phrases like "big files" do not match.
type extensionPattern struct {
	name     string
	re       *regexp.Regexp
	bareNoun bool
}

// listPart matches one enumeration of extension tokens, with or without
// leading dots: "csv", ".csv, .json", "csv or json and parquet".
const listPart = `((?:\.?[A-Za-z0-9]{1,9})(?:(?:\s*,\s*|\s+or\s+|\s+and\s+)\.?[A-Za-z0-9]{1,9})*)`

var extensionPatterns = []extensionPattern{
	// Glob form: "*.csv", "*.csv or *.json"
	{name: "glob", re: regexp.MustCompile(`(?i)((?:\*\.[A-Za-z0-9]{1,9})(?:(?:\s*,\s*|\s+or\s+|\s+and\s+)\*\.[A-Za-z0-9]{1,9})*)`)},
	// Suffixed-noun form: ".csv files"
	{name: "suffixed-noun", re: regexp.MustCompile(`(?i)((?:\.[A-Za-z0-9]{1,9})(?:(?:\s*,\s*|\s+or\s+|\s+and\s+)\.?[A-Za-z0-9]{1,9})*)\s+files?\b`)},
	// Bare-noun form: "csv files", "csv or json files"
	{name: "bare-noun", re: regexp.MustCompile(`(?i)\b` + listPart + `\s+files?\b`), bareNoun: true},
}

var extensionListSeparator = regexp.MustCompile(`(?i)\s*,\s*|\s+or\s+|\s+and\s+`)

// explicitFieldRe captures backend-native field expressions embedded in the
// raw text, e.g. "ext:.csv". The whole token is preserved verbatim.
var explicitFieldRe = regexp.MustCompile(`(?i)\bext:\s*(\S+)`)

// bucketPhraseRe recognizes "in bucket X" / "in the bucket X" /
// "in s3://X" as a convenience. Explicit filters always win over it.
var bucketPhraseRe = regexp.MustCompile(`(?i)\bin\s+(?:the\s+)?(?:bucket\s+|s3://)([a-z0-9][a-z0-9.\-]*[a-z0-9])\b`)

// knownExtensions gates the bare-noun heuristic. Without a leading dot or
// glob star, only tokens from this set are treated as extensions.
var knownExtensions = map[string]bool{
	"avro": true, "bam": true, "bed": true, "csv": true, "doc": true,
	"docx": true, "fasta": true, "fastq": true, "gff": true, "gif": true,
	"gz": true, "h5": true, "html": true, "ipynb": true, "jpeg": true,
	"jpg": true, "json": true, "md": true, "nc": true, "npy": true,
	"parquet": true, "pdf": true, "png": true, "sam": true, "svg": true,
	"tif": true, "tiff": true, "tsv": true, "txt": true, "vcf": true,
	"xls": true, "xlsx": true, "xml": true, "yaml": true, "yml": true,
	"zarr": true, "zip": true,
}

// Parse interprets raw text plus structured filters into a Query. It never
// fails: worst case the result carries the full raw text as free text with
// no extensions detected.
func Parse(raw string, f Filters) Query {
	q := Query{RawText: raw}
	text := raw

	// Explicit backend-native field expressions bypass extension
	// heuristics for that field. The filter expression wins over an
	// inline token.
	if strings.Contains(strings.ToLower(f.Expression), "ext:") {
		q.ExplicitFieldQuery = strings.TrimSpace(f.Expression)
	}
	if m := explicitFieldRe.FindString(text); m != "" {
		if q.ExplicitFieldQuery == "" {
			q.ExplicitFieldQuery = strings.TrimSpace(m)
		}
		text = explicitFieldRe.ReplaceAllString(text, " ")
	}

	switch {
	case len(f.Extensions) > 0:
		// Explicit extension filter: no heuristics.
		q.Extensions = normalizeExtensions(f.Extensions)
	case q.ExplicitFieldQuery == "":
		text, q.Extensions = detectExtensions(text)
	default:
		// Explicit field expression present: heuristics stay off so the
		// constraint is applied exactly once downstream.
	}

	q.Buckets = NormalizeBuckets(f.Bucket, f.Buckets)
	if len(q.Buckets) == 0 {
		if m := bucketPhraseRe.FindStringSubmatch(text); m != nil {
			q.Buckets = []string{strings.ToLower(m[1])}
			text = bucketPhraseRe.ReplaceAllString(text, " ")
		}
	}

	q.FreeText = collapseSpaces(text)
	return q
}

// ExtensionFilter returns the effective extension constraint for backends
// that filter client-side: the heuristic extensions, or the extension
// encoded by the explicit field expression. Empty means no constraint.
func (q Query) ExtensionFilter() []string {
	if len(q.Extensions) > 0 {
		return q.Extensions
	}
	if q.ExplicitFieldQuery == "" {
		return nil
	}
	m := explicitFieldRe.FindStringSubmatch(q.ExplicitFieldQuery)
	if m == nil {
		return nil
	}
	if ext := normalizeExtension(m[1]); ext != "" {
		return []string{ext}
	}
	return nil
}

// Scoped reports whether the query is restricted to specific buckets.
func (q Query) Scoped() bool {
	return len(q.Buckets) > 0
}

// NormalizeBuckets merges the singular and plural bucket filter spellings
// into one deduplicated list, preserving order. A request sending
// {bucket: "x"} and one sending {buckets: ["x"]} produce the same result;
// a production defect once hid behind exactly this asymmetry.
func NormalizeBuckets(bucket string, buckets []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(b string) {
		b = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(b, "s3://")))
		b = strings.TrimSuffix(b, "/")
		if b == "" || seen[b] {
			return
		}
		seen[b] = true
		out = append(out, b)
	}
	add(bucket)
	for _, b := range buckets {
		add(b)
	}
	return out
}

// detectExtensions runs the heuristic pattern table over text, returning
// the text with matched spans removed and the union of detected
// extensions, sorted for determinism.
func detectExtensions(text string) (string, []string) {
	seen := make(map[string]bool)
	for _, p := range extensionPatterns {
		start := 0
		for start < len(text) {
			m := p.re.FindStringSubmatchIndex(text[start:])
			if m == nil {
				break
			}
			base := start
			list := text[base+m[2] : base+m[3]]
			exts, ok := parseExtensionList(list, p.bareNoun)
			if !ok {
				// Candidate with unknown tokens ("big files"); leave the
				// phrase alone and keep scanning past it.
				start = base + m[0] + 1
				continue
			}
			for _, e := range exts {
				seen[e] = true
			}
			text = text[:base+m[0]] + " " + text[base+m[1]:]
			start = base + m[0]
		}
	}
	if len(seen) == 0 {
		return text, nil
	}
	out := make([]string, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Strings(out)
	return text, out
}

// parseExtensionList splits an enumeration like "csv, json or parquet"
// into normalized extensions. For bare-noun matches every token must be a
// known extension, otherwise the whole candidate is rejected.
func parseExtensionList(list string, bareNoun bool) ([]string, bool) {
	var out []string
	for _, tok := range extensionListSeparator.Split(list, -1) {
		tok = strings.TrimSpace(strings.TrimPrefix(tok, "*"))
		if tok == "" {
			continue
		}
		bare := !strings.HasPrefix(tok, ".")
		if bareNoun && bare && !knownExtensions[strings.ToLower(tok)] {
			return nil, false
		}
		if ext := normalizeExtension(tok); ext != "" {
			out = append(out, ext)
		}
	}
	return out, len(out) > 0
}

func normalizeExtensions(exts []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range exts {
		if ext := normalizeExtension(e); ext != "" && !seen[ext] {
			seen[ext] = true
			out = append(out, ext)
		}
	}
	sort.Strings(out)
	return out
}

// normalizeExtension lowercases and ensures a single leading dot.
func normalizeExtension(e string) string {
	e = strings.ToLower(strings.TrimSpace(e))
	e = strings.TrimPrefix(e, "*")
	e = strings.TrimLeft(e, ".")
	if e == "" {
		return ""
	}
	return "." + e
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
