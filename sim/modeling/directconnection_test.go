package modeling

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/sim/timing"
)

type agent struct {
	*TickingComponent

	port     Port
	dst      Port
	toSend   []int
	received []int
	recvTime []timing.VTime
}

func newAgent(
	name string,
	engine timing.Engine,
	side PortSide,
	inCap int,
) *agent {
	a := &agent{}
	a.TickingComponent = NewTickingComponent(name, engine, 1*timing.GHz, a)
	a.port = NewPortWithSide(a, inCap, 4, name+".Port", side)
	a.AddPort("Port", a.port)

	return a
}

func (a *agent) Tick() bool {
	madeProgress := false

	for len(a.toSend) > 0 {
		msg := newSampleMsg(a.port, a.dst, a.toSend[0])
		if a.port.Send(msg) != nil {
			break
		}

		a.toSend = a.toSend[1:]
		madeProgress = true
	}

	if msg := a.port.RetrieveIncoming(); msg != nil {
		a.received = append(a.received, msg.(*sampleMsg).payload)
		a.recvTime = append(a.recvTime, a.CurrentTime())
		madeProgress = true
	}

	return madeProgress
}

var _ = Describe("DirectConnection", func() {
	var (
		engine *timing.SerialEngine
		a, b   *agent
	)

	BeforeEach(func() {
		engine = timing.NewSerialEngine()
		a = newAgent("A", engine, MemSide, 4)
		b = newAgent("B", engine, CPUSide, 1)
		a.dst = b.port
		b.dst = a.port
	})

	It("should deliver messages in order under backpressure", func() {
		conn := MakeDirectConnectionBuilder().
			WithEngine(engine).
			Build("Conn")
		Expect(Connect(conn, a.port, b.port)).To(Succeed())

		for i := 0; i < 20; i++ {
			a.toSend = append(a.toSend, i)
		}
		a.TickNow()

		Expect(engine.Run()).To(Succeed())

		expected := []int{}
		for i := 0; i < 20; i++ {
			expected = append(expected, i)
		}
		Expect(b.received).To(Equal(expected))
	})

	It("should delay messages by the latency", func() {
		fast := MakeDirectConnectionBuilder().WithEngine(engine).Build("Fast")
		Expect(Connect(fast, a.port, b.port)).To(Succeed())
		a.toSend = []int{1}
		a.TickNow()
		Expect(engine.Run()).To(Succeed())
		fastArrival := b.recvTime[0]

		engine2 := timing.NewSerialEngine()
		c := newAgent("C", engine2, MemSide, 4)
		d := newAgent("D", engine2, CPUSide, 4)
		c.dst = d.port
		slow := MakeDirectConnectionBuilder().
			WithEngine(engine2).
			WithLatency(5).
			Build("Slow")
		Expect(Connect(slow, c.port, d.port)).To(Succeed())
		c.toSend = []int{1}
		c.TickNow()
		Expect(engine2.Run()).To(Succeed())

		Expect(d.recvTime[0] - fastArrival).To(Equal(timing.VTime(5000)))
	})

	It("should reject ports that are already bound", func() {
		conn := MakeDirectConnectionBuilder().WithEngine(engine).Build("Conn")
		Expect(Connect(conn, a.port, b.port)).To(Succeed())

		c := newAgent("C", engine, CPUSide, 1)
		conn2 := MakeDirectConnectionBuilder().WithEngine(engine).Build("Conn2")
		err := Connect(conn2, a.port, c.port)

		Expect(errors.Is(err, ErrPortAlreadyBound)).To(BeTrue())
		Expect(c.port.Connection()).To(BeNil())
	})

	It("should reject incompatible ports", func() {
		c := newAgent("C", engine, MemSide, 1)
		conn := MakeDirectConnectionBuilder().WithEngine(engine).Build("Conn")

		err := Connect(conn, a.port, c.port)

		Expect(errors.Is(err, ErrIncompatiblePorts)).To(BeTrue())
		Expect(a.port.Connection()).To(BeNil())
	})
})
