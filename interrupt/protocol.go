package interrupt

import (
	"github.com/sarchlab/o3sim/sim/id"
	"github.com/sarchlab/o3sim/sim/modeling"
)

// An InterruptReq asks an interrupt controller to raise a vector.
type InterruptReq struct {
	modeling.MsgMeta

	Vector int
}

// Meta returns the message meta.
func (r *InterruptReq) Meta() *modeling.MsgMeta {
	return &r.MsgMeta
}

// Clone returns a copy of the request with a new ID.
func (r *InterruptReq) Clone() modeling.Msg {
	c := *r
	c.ID = id.Generate()

	return &c
}

// InterruptReqBuilder can build InterruptReqs.
type InterruptReqBuilder struct {
	src, dst modeling.RemotePort
	vector   int
}

// WithSrc sets the source of the request.
func (b InterruptReqBuilder) WithSrc(src modeling.RemotePort) InterruptReqBuilder {
	b.src = src
	return b
}

// WithDst sets the destination of the request.
func (b InterruptReqBuilder) WithDst(dst modeling.RemotePort) InterruptReqBuilder {
	b.dst = dst
	return b
}

// WithVector sets the vector to raise.
func (b InterruptReqBuilder) WithVector(v int) InterruptReqBuilder {
	b.vector = v
	return b
}

// Build creates a new InterruptReq.
func (b InterruptReqBuilder) Build() *InterruptReq {
	return &InterruptReq{
		MsgMeta: modeling.MsgMeta{
			ID:           id.Generate(),
			Src:          b.src,
			Dst:          b.dst,
			TrafficBytes: 8,
		},
		Vector: b.vector,
	}
}
