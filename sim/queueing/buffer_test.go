package queueing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/sim/hooking"
)

var _ = Describe("Buffer", func() {
	var buf Buffer

	BeforeEach(func() {
		buf = NewBuffer("Buf", 2)
	})

	It("should be first in first out", func() {
		buf.Push(1)
		buf.Push(2)

		Expect(buf.CanPush()).To(BeFalse())
		Expect(buf.Pop()).To(Equal(1))
		Expect(buf.Peek()).To(Equal(2))
		Expect(buf.Size()).To(Equal(1))
	})

	It("should panic on overflow", func() {
		buf.Push(1)
		buf.Push(2)

		Expect(func() { buf.Push(3) }).To(Panic())
	})

	It("should return nil when empty", func() {
		Expect(buf.Pop()).To(BeNil())
		Expect(buf.Peek()).To(BeNil())
	})

	It("should remove selected elements and keep the order", func() {
		buf = NewBuffer("Buf", 4)
		for i := 1; i <= 4; i++ {
			buf.Push(i)
		}

		n := buf.Remove(func(e any) bool { return e.(int)%2 == 0 })

		Expect(n).To(Equal(2))
		Expect(buf.Elements()).To(Equal([]any{1, 3}))
	})

	It("should invoke hooks on push and pop", func() {
		positions := []*hooking.HookPos{}
		buf.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			positions = append(positions, ctx.Pos)
		}))

		buf.Push(1)
		buf.Pop()

		Expect(positions).To(Equal([]*hooking.HookPos{
			HookPosBufPush, HookPosBufPop,
		}))
	})
})
