package modeling

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/o3sim/sim/id"
)

type sampleMsg struct {
	MsgMeta
	payload int
}

func (m *sampleMsg) Meta() *MsgMeta {
	return &m.MsgMeta
}

func (m *sampleMsg) Clone() Msg {
	c := *m
	c.ID = id.Generate()

	return &c
}

func newSampleMsg(src, dst Port, payload int) *sampleMsg {
	return &sampleMsg{
		MsgMeta: MsgMeta{
			ID:  id.Generate(),
			Src: src.AsRemote(),
			Dst: dst.AsRemote(),
		},
		payload: payload,
	}
}

var _ = Describe("Port", func() {
	var (
		mockCtrl *gomock.Controller
		comp     *MockComponent
		port     Port
		other    Port
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		comp = NewMockComponent(mockCtrl)
		port = NewPortWithSide(comp, 1, 1, "Comp.Port", MemSide)
		other = NewPortWithSide(nil, 1, 1, "Other.Port", CPUSide)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should refuse to send when the outgoing buffer is full", func() {
		Expect(port.Send(newSampleMsg(port, other, 1))).To(BeNil())
		Expect(port.CanSend()).To(BeFalse())
		Expect(port.Send(newSampleMsg(port, other, 2))).NotTo(BeNil())
	})

	It("should panic if the message does not come from the port", func() {
		Expect(func() { port.Send(newSampleMsg(other, port, 1)) }).To(Panic())
	})

	It("should notify the component when a message arrives", func() {
		msg := newSampleMsg(other, port, 1)
		comp.EXPECT().NotifyRecv(port)

		Expect(port.Deliver(msg)).To(BeNil())
		Expect(port.Deliver(newSampleMsg(other, port, 2))).NotTo(BeNil())
		Expect(port.PeekIncoming()).To(BeIdenticalTo(msg))
		Expect(port.RetrieveIncoming()).To(BeIdenticalTo(msg))
		Expect(port.NumIncoming()).To(Equal(0))
	})

	It("should notify the component when the outgoing buffer frees up", func() {
		msg := newSampleMsg(port, other, 1)
		Expect(port.Send(msg)).To(BeNil())
		comp.EXPECT().NotifyPortFree(port)

		Expect(port.RetrieveOutgoing()).To(BeIdenticalTo(msg))
	})

	It("should only connect opposite sides", func() {
		Expect(CPUSide.CanConnect(MemSide)).To(BeTrue())
		Expect(MemSide.CanConnect(MemSide)).To(BeFalse())
		Expect(PeerSide.CanConnect(PeerSide)).To(BeTrue())
		Expect(PeerSide.CanConnect(CPUSide)).To(BeFalse())
	})
})
