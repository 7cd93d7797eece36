package mem

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/sim/modeling"
)

var _ = Describe("RangePortMapper", func() {
	var mapper *RangePortMapper

	BeforeEach(func() {
		mapper = &RangePortMapper{DefaultPort: "Mem.Top"}
	})

	It("should route ranges and fall back to the default", func() {
		Expect(mapper.AddRange(AddrRange{Start: 0x1000, Size: 0x100},
			"Pio.Top")).To(Succeed())

		Expect(mapper.Find(0x1080)).To(Equal(modeling.RemotePort("Pio.Top")))
		Expect(mapper.Find(0x1100)).To(Equal(modeling.RemotePort("Mem.Top")))
		Expect(mapper.Ports()).To(ConsistOf(
			modeling.RemotePort("Pio.Top"), modeling.RemotePort("Mem.Top")))
	})

	It("should reject overlapping ranges", func() {
		Expect(mapper.AddRange(AddrRange{Start: 0, Size: 0x100}, "A.Top")).
			To(Succeed())
		Expect(mapper.AddRange(AddrRange{Start: 0x80, Size: 0x100}, "B.Top")).
			NotTo(Succeed())
	})

	It("should panic without a default port", func() {
		mapper.DefaultPort = ""

		Expect(func() { mapper.Find(0) }).To(Panic())
	})
})
