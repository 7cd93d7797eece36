package interrupt

import (
	"encoding/binary"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/mem/memaccessagent"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/timing"
)

const pioBase = 0x1000_0000

type countingListener struct {
	calls int
}

func (l *countingListener) InterruptRaised() {
	l.calls++
}

func vectorBytes(v uint64) []byte {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, v)

	return data
}

var _ = Describe("Interrupt Controller", func() {
	var (
		engine   *timing.SerialEngine
		agent    *memaccessagent.MemAccessAgent
		local    *Comp
		remote   *Comp
		listener *countingListener
	)

	connect := func(name string, a, b modeling.Port) {
		conn := modeling.MakeDirectConnectionBuilder().
			WithEngine(engine).
			Build(name)
		Expect(modeling.Connect(conn, a, b)).To(Succeed())
	}

	BeforeEach(func() {
		engine = timing.NewSerialEngine()

		local = MakeBuilder().
			WithEngine(engine).
			WithPIOBase(pioBase).
			WithVectorTable(0x8000, 0x40).
			Build("IntCtrl")
		remote = MakeBuilder().
			WithEngine(engine).
			Build("RemoteIntCtrl")
		local.SetRemote(remote.GetPortByName("IntResponder").AsRemote())

		listener = &countingListener{}
		local.AddListener(listener)

		agent = memaccessagent.MakeBuilder().
			WithEngine(engine).
			WithLowModule(local.GetPortByName("PIO")).
			Build("Agent")

		connect("PIOConn", agent.GetPortByName("Mem"),
			local.GetPortByName("PIO"))
		connect("IntConn", local.GetPortByName("IntRequestor"),
			remote.GetPortByName("IntResponder"))
	})

	run := func() {
		agent.Start()
		Expect(engine.Run()).To(Succeed())
		Expect(agent.Done()).To(BeTrue())
	}

	It("should raise the written vector", func() {
		agent.Write(pioBase+RegRaise, vectorBytes(3))
		agent.Write(pioBase+RegRaise, vectorBytes(5))
		run()

		Expect(local.Pending()).To(BeTrue())
		Expect(local.NumPending()).To(Equal(2))
		Expect(listener.calls).To(Equal(2))

		v, ok := local.Acknowledge()
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(3))

		v, ok = local.Acknowledge()
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(5))

		_, ok = local.Acknowledge()
		Expect(ok).To(BeFalse())
		Expect(local.Stats().Acknowledged).To(Equal(uint64(2)))
	})

	It("should report the number of pending interrupts", func() {
		agent.Write(pioBase+RegRaise, vectorBytes(1))
		agent.Read(pioBase+RegRaise, 8)
		run()

		Expect(agent.Completed).To(HaveLen(2))
		rsp := agent.Completed[1].Rsp.(*mem.DataReadyRsp)
		Expect(binary.LittleEndian.Uint64(rsp.Data)).To(Equal(uint64(1)))
	})

	It("should send interrupts to the remote controller", func() {
		agent.Write(pioBase+RegSend, vectorBytes(7))
		run()

		Expect(local.Pending()).To(BeFalse())
		Expect(local.Stats().Sent).To(Equal(uint64(1)))
		Expect(remote.Stats().Received).To(Equal(uint64(1)))

		v, ok := remote.Acknowledge()
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(7))
		Expect(local.Quiescent()).To(BeTrue())
	})

	It("should compute handler addresses from the vector table", func() {
		Expect(local.HandlerAddress(0)).To(Equal(uint64(0x8000)))
		Expect(local.HandlerAddress(2)).To(Equal(uint64(0x8080)))
	})

	It("should panic on addresses outside the window", func() {
		agent.Write(pioBase+PIOSize, vectorBytes(1))
		agent.Start()
		Expect(func() { _ = engine.Run() }).To(Panic())
	})

	It("should restore pending interrupts", func() {
		agent.Write(pioBase+RegRaise, vectorBytes(9))
		run()

		raw, err := json.Marshal(local.State())
		Expect(err).NotTo(HaveOccurred())

		other := MakeBuilder().
			WithEngine(timing.NewSerialEngine()).
			Build("OtherIntCtrl")
		Expect(other.SetState(raw)).To(Succeed())

		v, ok := other.Acknowledge()
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(9))
		Expect(other.Stats().Raised).To(Equal(uint64(1)))
	})
})
