package idealmemcontroller

import (
	"bytes"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/mem/memaccessagent"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/timing"
)

var _ = Describe("Ideal Memory Controller", func() {
	var (
		engine *timing.SerialEngine
		agent  *memaccessagent.MemAccessAgent
		ctrl   *Comp
	)

	BeforeEach(func() {
		engine = timing.NewSerialEngine()

		ctrl = MakeBuilder().
			WithEngine(engine).
			WithNewStorage(1 * mem.MB).
			WithLatency(10).
			Build("MemCtrl")

		agent = memaccessagent.MakeBuilder().
			WithEngine(engine).
			WithLowModule(ctrl.GetPortByName("Top")).
			Build("Agent")

		conn := modeling.MakeDirectConnectionBuilder().
			WithEngine(engine).
			Build("Conn")
		Expect(modeling.Connect(conn,
			agent.GetPortByName("Mem"), ctrl.GetPortByName("Top"))).
			To(Succeed())
	})

	It("should answer a read after the fixed latency", func() {
		agent.Read(0x40, 4)
		agent.Start()

		Expect(engine.Run()).To(Succeed())

		Expect(agent.Completed).To(HaveLen(1))
		c := agent.Completed[0]
		Expect(c.Rsp).To(BeAssignableToTypeOf(&mem.DataReadyRsp{}))
		Expect(c.Latency()).To(BeNumerically(">=", 10*timing.GHz.Period()))
		Expect(c.Latency()).To(BeNumerically("<=", 13*timing.GHz.Period()))
	})

	It("should return written data", func() {
		agent.Write(0x100, []byte{1, 2, 3, 4})
		agent.Read(0x100, 4)
		agent.Start()

		Expect(engine.Run()).To(Succeed())

		Expect(agent.Completed).To(HaveLen(2))
		Expect(agent.Completed[0].Rsp).
			To(BeAssignableToTypeOf(&mem.WriteDoneRsp{}))
		Expect(agent.Completed[1].Rsp.(*mem.DataReadyRsp).Data).
			To(Equal([]byte{1, 2, 3, 4}))
		Expect(ctrl.Stats().Writes).To(Equal(uint64(1)))
		Expect(ctrl.Stats().Reads).To(Equal(uint64(1)))
	})

	It("should answer requests in arrival order", func() {
		for i := range 8 {
			agent.Read(uint64(i)*64, 4)
		}
		agent.Start()

		Expect(engine.Run()).To(Succeed())

		Expect(agent.Completed).To(HaveLen(8))
		for i, c := range agent.Completed {
			Expect(c.Req.GetAddress()).To(Equal(uint64(i) * 64))
		}
	})

	It("should keep data consistent under random traffic", func() {
		agent.ReadLeft = 200
		agent.WriteLeft = 200
		agent.MaxAddress = 4096
		agent.Start()

		Expect(engine.Run()).To(Succeed())

		Expect(agent.Done()).To(BeTrue())
		Expect(agent.Mismatches).To(BeEmpty())
	})

	It("should checkpoint the memory content", func() {
		agent.Write(0x200, []byte{9, 8, 7, 6})
		agent.Start()
		Expect(engine.Run()).To(Succeed())

		raw, err := json.Marshal(ctrl.State())
		Expect(err).NotTo(HaveOccurred())

		other := MakeBuilder().
			WithEngine(timing.NewSerialEngine()).
			WithNewStorage(1 * mem.MB).
			Build("Other")
		Expect(other.SetState(raw)).To(Succeed())

		data, err := other.Storage().Read(0x200, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(bytes.Equal(data, []byte{9, 8, 7, 6})).To(BeTrue())
		Expect(other.Stats().Writes).To(Equal(uint64(1)))
	})

	It("should not checkpoint while requests are in flight", func() {
		agent.Read(0, 4)
		agent.Start()
		_, err := engine.RunUntil(2 * timing.GHz.Period())
		Expect(err).NotTo(HaveOccurred())

		Expect(func() { ctrl.State() }).To(Panic())
	})
})
