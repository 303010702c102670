// Package tag classifies and orders science platform lab image tags.
//
// The tag format is specified by https://sqr-059.lsst.io: releases
// (r21_0_1), release candidates (r22_0_0_rc1), weeklies (w_2021_22),
// dailies (d_2021_05_27), experimental builds (exp_...), plus optional
// cycle (_c0020.001) and free-form build suffixes.
package tag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Kind is the category a tag string falls into.
type Kind int

const (
	Unknown Kind = iota
	Daily
	Weekly
	Release
	ReleaseCandidate
	Experimental
	Alias
)

var kindNames = map[Kind]string{
	Unknown:          "Unknown",
	Daily:            "Daily",
	Weekly:           "Weekly",
	Release:          "Release",
	ReleaseCandidate: "Release Candidate",
	Experimental:     "Experimental",
	Alias:            "Alias",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "Unknown"
}

// Tag is the structured form of one image tag string. Construct values
// with Parse; a Tag is never mutated afterwards.
type Tag struct {
	// Raw is the tag as it appears in the registry, after the empty
	// string has been normalized to the registry default tag.
	Raw string

	Kind Kind

	// DisplayName is a human-readable name for the tag, suitable for a
	// spawner menu.
	DisplayName string

	// Version is only set for Daily, Weekly, Release, and
	// ReleaseCandidate tags, and is only meaningful for comparison
	// within a single Kind.
	Version *semver.Version

	// Cycle is the XML schema cycle embedded in some Telescope & Site
	// builds, e.g. 20 for a _c0020.001 suffix. Nil when absent.
	Cycle *int
}

// IncomparableKindsError reports an attempt to order two tags that have
// no ordering relative to each other.
type IncomparableKindsError struct {
	A Tag
	B Tag
}

func (e *IncomparableKindsError) Error() string {
	return fmt.Sprintf("tag %q of kind %s cannot be compared to %q of kind %s",
		e.A.Raw, e.A.Kind, e.B.Raw, e.B.Kind)
}

// Compare orders two tags, returning -1, 0, or 1. Tags of different
// kinds are incomparable and produce an IncomparableKindsError, as do
// distinct Alias or Unknown tags, which only support equality.
func Compare(a, b Tag) (int, error) {
	if a.Kind != b.Kind {
		return 0, &IncomparableKindsError{A: a, B: b}
	}
	if a.Version != nil && b.Version != nil {
		return a.Version.Compare(b.Version), nil
	}
	switch a.Kind {
	case Alias, Unknown:
		if a.Raw == b.Raw {
			return 0, nil
		}
		return 0, &IncomparableKindsError{A: a, B: b}
	case Experimental:
		// Experimental builds have no version structure and sort by
		// tag string.
		return strings.Compare(a.Raw, b.Raw), nil
	}
	return 0, &IncomparableKindsError{A: a, B: b}
}

// Less reports whether t sorts before o.
func (t Tag) Less(o Tag) (bool, error) {
	c, err := Compare(t, o)
	if err != nil {
		return false, err
	}
	return c < 0, nil
}

// Equal reports whether t and o denote the same version.
func (t Tag) Equal(o Tag) (bool, error) {
	c, err := Compare(t, o)
	if err != nil {
		return false, err
	}
	return c == 0, nil
}

// Newest returns at most n tags of kind k, newest first. Tags of other
// kinds are ignored.
func Newest(tags []Tag, k Kind, n int) []Tag {
	if n <= 0 {
		return nil
	}
	var of []Tag
	for _, t := range tags {
		if t.Kind == k {
			of = append(of, t)
		}
	}
	sort.SliceStable(of, func(i, j int) bool {
		// Same-kind comparison only errors for Alias and Unknown,
		// which never carry a version; leave those in listing order.
		c, err := Compare(of[i], of[j])
		if err != nil {
			return false
		}
		return c > 0
	})
	if len(of) > n {
		of = of[:n]
	}
	return of
}
