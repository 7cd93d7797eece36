package replacement_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/mem/cache/replacement"
)

func newEntries(
	p replacement.Policy,
	n int,
	now *uint64,
) []*replacement.Entry {
	entries := make([]*replacement.Entry, n)
	for i := range entries {
		entries[i] = &replacement.Entry{}
		*now++
		p.Reset(entries[i], *now)
	}

	return entries
}

var _ = Describe("LRU", func() {
	It("should evict the least recently touched entry", func() {
		p := replacement.NewLRU()
		now := uint64(0)
		entries := newEntries(p, 4, &now)

		p.Touch(entries[0], 10)
		p.Touch(entries[2], 11)

		Expect(p.Victim(entries)).To(Equal(1))
	})

	It("should prefer an invalidated entry", func() {
		p := replacement.NewLRU()
		now := uint64(0)
		entries := newEntries(p, 4, &now)

		p.Invalidate(entries[3])

		Expect(p.Victim(entries)).To(Equal(3))
	})

	It("should break ties toward the lower way", func() {
		p := replacement.NewLRU()
		entries := []*replacement.Entry{{LastTouch: 5}, {LastTouch: 5}}

		Expect(p.Victim(entries)).To(Equal(0))
	})
})

var _ = Describe("FIFO", func() {
	It("should ignore hits", func() {
		p := replacement.NewFIFO()
		now := uint64(0)
		entries := newEntries(p, 3, &now)

		p.Touch(entries[0], 100)

		Expect(p.Victim(entries)).To(Equal(0))
	})
})

var _ = Describe("Random", func() {
	It("should be reproducible for a seed", func() {
		entries := make([]*replacement.Entry, 8)
		for i := range entries {
			entries[i] = &replacement.Entry{}
		}

		a := replacement.NewRandom(42)
		b := replacement.NewRandom(42)

		for i := 0; i < 20; i++ {
			Expect(a.Victim(entries)).To(Equal(b.Victim(entries)))
		}
	})
})

var _ = Describe("LRU2", func() {
	It("should evict the third most recently used entry", func() {
		p := replacement.NewLRU2()
		entries := []*replacement.Entry{
			{LastTouch: 4}, {LastTouch: 9}, {LastTouch: 1}, {LastTouch: 7},
		}

		Expect(p.Victim(entries)).To(Equal(0))
	})

	It("should fall back to LRU with two candidates", func() {
		p := replacement.NewLRU2()
		entries := []*replacement.Entry{{LastTouch: 4}, {LastTouch: 2}}

		Expect(p.Victim(entries)).To(Equal(1))
	})
})

var _ = Describe("LIP", func() {
	It("should insert next to the LRU position", func() {
		p := replacement.NewLIP()
		entries := []*replacement.Entry{
			{LastTouch: 20}, {LastTouch: 3}, {LastTouch: 8}, {LastTouch: 30},
		}

		victim := p.Victim(entries)
		Expect(victim).To(Equal(1))

		p.Reset(entries[victim], 100)
		Expect(entries[victim].LastTouch).To(Equal(uint64(9)))

		Expect(p.Victim(entries)).To(Equal(2))
	})
})

var _ = Describe("RRIP", func() {
	It("should insert with a long interval and age on eviction", func() {
		p := replacement.NewSRRIP(2)
		now := uint64(0)
		entries := newEntries(p, 4, &now)

		Expect(entries[0].RRPV).To(Equal(2))

		p.Touch(entries[1], 0)

		Expect(p.Victim(entries)).To(Equal(0))
		Expect(entries[0].RRPV).To(Equal(3))
		Expect(entries[1].RRPV).To(Equal(1))
	})

	It("should insert mostly at the distant interval with BRRIP", func() {
		p := replacement.NewBRRIP(2, 32, 1)
		distant := 0

		for i := 0; i < 64; i++ {
			e := &replacement.Entry{}
			p.Reset(e, 0)

			if e.RRPV == 3 {
				distant++
			}
		}

		Expect(distant).To(BeNumerically(">", 48))
	})
})

var _ = Describe("ByName", func() {
	It("should create every registered policy", func() {
		for _, n := range replacement.Names() {
			p, err := replacement.ByName(n, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Name()).To(Equal(n))
		}
	})

	It("should reject unknown names", func() {
		_, err := replacement.ByName("mru", 1)
		Expect(err).To(HaveOccurred())
	})
})
