package tag

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/lsst-sqre/cachemachine/pkg/logging"
)

// DefaultTag is substituted for an empty tag string, per Docker
// convention.
const DefaultTag = "latest"

// Building blocks for the grammar below, using named capture groups.
const (
	reRelease = `r(?P<major>\d+)_(?P<minor>\d+)_(?P<patch>\d+)`
	reRC      = `r(?P<major>\d+)_(?P<minor>\d+)_(?P<patch>\d+)_rc(?P<pre>\d+)`
	reWeekly  = `w_(?P<year>\d+)_(?P<week>\d+)`
	reDaily   = `d_(?P<year>\d+)_(?P<month>\d+)_(?P<day>\d+)`
	reCycle   = `_(?P<ctag>c|csal)(?P<cycle>\d+\.\d+)`
	reRest    = `_(?P<rest>.*)`
)

type grammarRule struct {
	kind Kind
	re   *regexp.Regexp
}

// The heart of the parser: an ordered list of rules matched top to
// bottom, first match wins.
//
// The order is load-bearing. Release-candidate rules must precede
// release rules, because an RC tag is also a release tag with a
// non-empty free-form suffix; likewise each "cycle" rule must precede
// the corresponding plain "rest" rule. The ordering is covered by
// tests.
var grammar = []grammarRule{
	// r23_0_0_rc1_c0020.001_20210513
	{ReleaseCandidate, regexp.MustCompile(`^` + reRC + reCycle + reRest + `$`)},
	// r23_0_0_rc1_c0020.001
	{ReleaseCandidate, regexp.MustCompile(`^` + reRC + reCycle + `$`)},
	// r23_0_0_rc1_20210513
	{ReleaseCandidate, regexp.MustCompile(`^` + reRC + reRest + `$`)},
	// r23_0_0_rc1
	{ReleaseCandidate, regexp.MustCompile(`^` + reRC + `$`)},
	// r22_0_1_c0019.001_20210513
	{Release, regexp.MustCompile(`^` + reRelease + reCycle + reRest + `$`)},
	// r22_0_1_c0019.001
	{Release, regexp.MustCompile(`^` + reRelease + reCycle + `$`)},
	// r22_0_1_20210513
	{Release, regexp.MustCompile(`^` + reRelease + reRest + `$`)},
	// r22_0_1
	{Release, regexp.MustCompile(`^` + reRelease + `$`)},
	// r170 (obsolete form; no cycle or suffix decomposition)
	{Release, regexp.MustCompile(`^r(?P<major>\d\d)(?P<minor>\d)$`)},
	// w_2021_13_c0020.001_20210513
	{Weekly, regexp.MustCompile(`^` + reWeekly + reCycle + reRest + `$`)},
	// w_2021_13_c0020.001
	{Weekly, regexp.MustCompile(`^` + reWeekly + reCycle + `$`)},
	// w_2021_13_20210513
	{Weekly, regexp.MustCompile(`^` + reWeekly + reRest + `$`)},
	// w_2021_13
	{Weekly, regexp.MustCompile(`^` + reWeekly + `$`)},
	// d_2021_05_13_c0019.001_20210513
	{Daily, regexp.MustCompile(`^` + reDaily + reCycle + reRest + `$`)},
	// d_2021_05_13_c0019.001
	{Daily, regexp.MustCompile(`^` + reDaily + reCycle + `$`)},
	// d_2021_05_13_20210513
	{Daily, regexp.MustCompile(`^` + reDaily + reRest + `$`)},
	// d_2021_05_13
	{Daily, regexp.MustCompile(`^` + reDaily + `$`)},
	// exp_w_2021_05_13_nosudo
	{Experimental, regexp.MustCompile(`^exp_(?P<rest>.*)$`)},
}

var nonBuildChars = regexp.MustCompile(`[^a-zA-Z0-9.]+`)

// Parse classifies a raw tag string. It is total: every input,
// including the empty string and malformed tags, yields a Tag; the
// worst case is Kind Unknown. Membership in aliases short-circuits the
// grammar and classifies the tag as an Alias.
func Parse(raw string, aliases []string) Tag {
	t := raw
	if t == "" {
		t = DefaultTag
	}
	if t != strings.ToLower(t) {
		// Registries flatten case; a mixed-case tag may collide after
		// flattening, so its meaning cannot be trusted.
		logging.Logger.Warn("Tag is not lower case, classifying as unknown",
			zap.String("tag", t))
		return Tag{Raw: t, Kind: Unknown, DisplayName: t}
	}
	for _, a := range aliases {
		if t == a {
			return Tag{Raw: t, Kind: Alias, DisplayName: titleCase(t)}
		}
	}
	for _, rule := range grammar {
		m := rule.re.FindStringSubmatch(t)
		if m == nil {
			continue
		}
		return extract(rule.kind, t, captures(rule.re, m))
	}
	logging.Logger.Debug("Tag did not match any grammar rule",
		zap.String("tag", t))
	return Tag{Raw: t, Kind: Unknown, DisplayName: t}
}

// captures maps named groups to their matched text, dropping empty
// matches so callers can treat absence and emptiness uniformly.
func captures(re *regexp.Regexp, m []string) map[string]string {
	g := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" || m[i] == "" {
			continue
		}
		g[name] = m[i]
	}
	return g
}

func extract(k Kind, raw string, g map[string]string) Tag {
	cycleStr := g["cycle"]
	ctag := g["ctag"]
	rest := g["rest"]

	if k == Experimental {
		// Experimental tags usually wrap another legal tag, so try to
		// classify the remainder and borrow its display name.
		inner := Parse(rest, nil)
		return Tag{
			Raw:         raw,
			Kind:        k,
			DisplayName: "Experimental " + inner.DisplayName,
		}
	}

	var major, minor, patch uint64
	var pre, restName string

	switch k {
	case Release, ReleaseCandidate:
		major = parseUint(g["major"])
		minor = parseUint(g["minor"])
		patch = parseUint(g["patch"]) // absent patch reads as zero
		restName = fmt.Sprintf("r%d.%d.%d", major, minor, patch)
		if p := g["pre"]; p != "" {
			pre = "rc" + p
			restName += "-" + pre
		}
	case Weekly:
		// Preserve the original string components, leading zeros and
		// all, for the display name.
		major = parseUint(g["year"])
		minor = parseUint(g["week"])
		restName = g["year"] + "_" + g["week"]
	case Daily:
		major = parseUint(g["year"])
		minor = parseUint(g["month"])
		patch = parseUint(g["day"])
		restName = g["year"] + "_" + g["month"] + "_" + g["day"]
	}

	version := semver.New(major, minor, patch, pre, buildMetadata(cycleStr, ctag, rest))

	name := k.String() + " " + restName
	if cycleStr != "" {
		name += "_" + ctag + cycleStr
	}
	if rest != "" {
		name += "_" + rest
	}

	return Tag{
		Raw:         raw,
		Kind:        k,
		DisplayName: name,
		Version:     version,
		Cycle:       cycleNumber(cycleStr),
	}
}

// buildMetadata encodes the cycle and free-form suffix as a semver
// build-metadata string: dot-separated, alphanumeric-only, cycle first.
func buildMetadata(cycle, ctag, rest string) string {
	if cycle != "" {
		if rest != "" {
			rest = ctag + cycle + "_" + rest
		} else {
			rest = ctag + cycle
		}
	}
	if rest == "" {
		return ""
	}
	rest = strings.ReplaceAll(rest, "_", ".")
	return nonBuildChars.ReplaceAllString(rest, "")
}

// cycleNumber extracts the integer cycle from a cycle component such as
// "0020.001" (cycle 20, build 001).
func cycleNumber(cycle string) *int {
	if cycle == "" {
		return nil
	}
	whole, _, _ := strings.Cut(cycle, ".")
	n, err := strconv.Atoi(whole)
	if err != nil {
		return nil
	}
	return &n
}

func parseUint(s string) uint64 {
	n, _ := strconv.ParseUint(s, 10, 64)
	return n
}

func titleCase(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
