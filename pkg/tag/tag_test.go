package tag_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lsst-sqre/cachemachine/pkg/tag"
)

func parse(raw string) tag.Tag {
	return tag.Parse(raw, nil)
}

var _ = Describe("Compare", func() {
	It("orders releases by version", func() {
		c, err := tag.Compare(parse("r21_0_1"), parse("r21_0_2"))
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(Equal(-1))

		c, err = tag.Compare(parse("r22_0_0"), parse("r21_0_2"))
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(Equal(1))
	})

	It("ignores build metadata", func() {
		c, err := tag.Compare(parse("r21_0_1"), parse("r21_0_1_c0019.001"))
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(Equal(0))
	})

	It("orders a release candidate before its release", func() {
		less, err := parse("r22_0_0_rc1").Less(parse("r22_0_0_rc2"))
		Expect(err).NotTo(HaveOccurred())
		Expect(less).To(BeTrue())
	})

	It("orders weeklies and dailies chronologically", func() {
		c, err := tag.Compare(parse("w_2021_03"), parse("w_2021_22"))
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(Equal(-1))

		c, err = tag.Compare(parse("d_2021_05_27"), parse("d_2021_01_13"))
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(Equal(1))
	})

	It("orders experimental tags lexicographically", func() {
		c, err := tag.Compare(parse("exp_a"), parse("exp_b"))
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(Equal(-1))
	})

	It("refuses to order tags of different kinds", func() {
		_, err := tag.Compare(parse("r21_0_1"), parse("w_2021_22"))
		var incomparable *tag.IncomparableKindsError
		Expect(errors.As(err, &incomparable)).To(BeTrue())
	})

	It("supports equality but not order for aliases and unknowns", func() {
		a := tag.Parse("recommended", []string{"recommended"})
		b := tag.Parse("recommended", []string{"recommended"})
		eq, err := a.Equal(b)
		Expect(err).NotTo(HaveOccurred())
		Expect(eq).To(BeTrue())

		other := tag.Parse("latest", []string{"latest"})
		_, err = tag.Compare(a, other)
		Expect(err).To(HaveOccurred())

		_, err = tag.Compare(parse("mystery"), parse("enigma"))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Newest", func() {
	tags := []tag.Tag{
		parse("w_2021_02"),
		parse("w_2021_22"),
		parse("d_2021_05_27"),
		parse("w_2021_03"),
		parse("r21_0_1"),
	}

	It("returns the newest tags of one kind", func() {
		newest := tag.Newest(tags, tag.Weekly, 2)
		Expect(newest).To(HaveLen(2))
		Expect(newest[0].Raw).To(Equal("w_2021_22"))
		Expect(newest[1].Raw).To(Equal("w_2021_03"))
	})

	It("returns fewer tags when the kind is scarce", func() {
		newest := tag.Newest(tags, tag.Release, 5)
		Expect(newest).To(HaveLen(1))
		Expect(newest[0].Raw).To(Equal("r21_0_1"))
	})

	It("returns nothing for a non-positive count", func() {
		Expect(tag.Newest(tags, tag.Weekly, 0)).To(BeEmpty())
	})
})
