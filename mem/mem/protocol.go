// Package mem defines the memory access protocol shared by caches, memory
// controllers, crossbars, and the CPU.
package mem

import (
	"github.com/sarchlab/o3sim/sim/id"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/timing"
)

var accessReqByteOverhead = 12
var accessRspByteOverhead = 4

// AccessReq abstracts read and write requests that are sent to the
// cache modules or memory controllers.
type AccessReq interface {
	modeling.Msg
	GetAddress() uint64
	GetByteSize() uint64
	IsPrefetch() bool
}

// A AccessRsp is a respond in the memory system.
type AccessRsp interface {
	modeling.Msg
	modeling.Rsp
}

// InstInfo is attached by a CPU to the requests of its loads and stores, so
// that caches can train PC-based prefetchers.
type InstInfo struct {
	PC       uint64
	ThreadID int
}

// PCOf returns the PC carried by the Info of a request, or 0.
func PCOf(req AccessReq) uint64 {
	var info any

	switch r := req.(type) {
	case *ReadReq:
		info = r.Info
	case *WriteReq:
		info = r.Info
	}

	if i, ok := info.(*InstInfo); ok {
		return i.PC
	}

	return 0
}

// A ReadReq is a request sent to a memory controller to fetch data
type ReadReq struct {
	modeling.MsgMeta

	Address        uint64
	AccessByteSize uint64
	Prefetch       bool
	IssueTime      timing.VTime
	Info           any
}

// Meta returns the message meta.
func (r *ReadReq) Meta() *modeling.MsgMeta {
	return &r.MsgMeta
}

// Clone returns a copy of the request with a new ID.
func (r *ReadReq) Clone() modeling.Msg {
	c := *r
	c.ID = id.Generate()

	return &c
}

// GetByteSize returns the number of byte that the request is accessing.
func (r *ReadReq) GetByteSize() uint64 {
	return r.AccessByteSize
}

// GetAddress returns the address that the request is accessing
func (r *ReadReq) GetAddress() uint64 {
	return r.Address
}

// IsPrefetch tells if the request is generated by a prefetcher.
func (r *ReadReq) IsPrefetch() bool {
	return r.Prefetch
}

// ReadReqBuilder can build read requests.
type ReadReqBuilder struct {
	src, dst          modeling.RemotePort
	address, byteSize uint64
	prefetch          bool
	issueTime         timing.VTime
	info              any
}

// WithSrc sets the source of the request to build.
func (b ReadReqBuilder) WithSrc(src modeling.RemotePort) ReadReqBuilder {
	b.src = src
	return b
}

// WithDst sets the destination of the request to build.
func (b ReadReqBuilder) WithDst(dst modeling.RemotePort) ReadReqBuilder {
	b.dst = dst
	return b
}

// WithInfo sets the Info of the request to build.
func (b ReadReqBuilder) WithInfo(info any) ReadReqBuilder {
	b.info = info
	return b
}

// WithAddress sets the address of the request to build.
func (b ReadReqBuilder) WithAddress(address uint64) ReadReqBuilder {
	b.address = address
	return b
}

// WithByteSize sets the byte size of the request to build.
func (b ReadReqBuilder) WithByteSize(byteSize uint64) ReadReqBuilder {
	b.byteSize = byteSize
	return b
}

// WithIssueTime records when the requester issued the request.
func (b ReadReqBuilder) WithIssueTime(t timing.VTime) ReadReqBuilder {
	b.issueTime = t
	return b
}

// AsPrefetch marks the request to build as a prefetch.
func (b ReadReqBuilder) AsPrefetch() ReadReqBuilder {
	b.prefetch = true
	return b
}

// Build creates a new ReadReq
func (b ReadReqBuilder) Build() *ReadReq {
	r := &ReadReq{}
	r.ID = id.Generate()
	r.Src = b.src
	r.Dst = b.dst
	r.TrafficBytes = accessReqByteOverhead
	r.Address = b.address
	r.AccessByteSize = b.byteSize
	r.Prefetch = b.prefetch
	r.IssueTime = b.issueTime
	r.Info = b.info

	return r
}

// A WriteReq is a request sent to a memory controller to write data
type WriteReq struct {
	modeling.MsgMeta

	Address   uint64
	Data      []byte
	IssueTime timing.VTime
	Info      any
}

// Meta returns the meta data attached to a request.
func (r *WriteReq) Meta() *modeling.MsgMeta {
	return &r.MsgMeta
}

// Clone returns a copy of the request with a new ID.
func (r *WriteReq) Clone() modeling.Msg {
	c := *r
	c.ID = id.Generate()
	c.Data = append([]byte(nil), r.Data...)

	return &c
}

// GetByteSize returns the number of byte that the request is writing.
func (r *WriteReq) GetByteSize() uint64 {
	return uint64(len(r.Data))
}

// GetAddress returns the address that the request is accessing
func (r *WriteReq) GetAddress() uint64 {
	return r.Address
}

// IsPrefetch always returns false. Writes are never speculative.
func (r *WriteReq) IsPrefetch() bool {
	return false
}

// WriteReqBuilder can build read requests.
type WriteReqBuilder struct {
	src, dst  modeling.RemotePort
	info      any
	address   uint64
	data      []byte
	issueTime timing.VTime
}

// WithSrc sets the source of the request to build.
func (b WriteReqBuilder) WithSrc(src modeling.RemotePort) WriteReqBuilder {
	b.src = src
	return b
}

// WithDst sets the destination of the request to build.
func (b WriteReqBuilder) WithDst(dst modeling.RemotePort) WriteReqBuilder {
	b.dst = dst
	return b
}

// WithInfo sets the information attached to the request to build.
func (b WriteReqBuilder) WithInfo(info any) WriteReqBuilder {
	b.info = info
	return b
}

// WithAddress sets the address of the request to build.
func (b WriteReqBuilder) WithAddress(address uint64) WriteReqBuilder {
	b.address = address
	return b
}

// WithData sets the data of the request to build.
func (b WriteReqBuilder) WithData(data []byte) WriteReqBuilder {
	b.data = data
	return b
}

// WithIssueTime records when the requester issued the request.
func (b WriteReqBuilder) WithIssueTime(t timing.VTime) WriteReqBuilder {
	b.issueTime = t
	return b
}

// Build creates a new WriteReq
func (b WriteReqBuilder) Build() *WriteReq {
	r := &WriteReq{}
	r.ID = id.Generate()
	r.Src = b.src
	r.Dst = b.dst
	r.Info = b.info
	r.Address = b.address
	r.Data = b.data
	r.IssueTime = b.issueTime
	r.TrafficBytes = len(r.Data) + accessReqByteOverhead

	return r
}

// An InvalidateReq asks a cache to drop the block that holds an address. A
// dirty block is written back before it is dropped.
type InvalidateReq struct {
	modeling.MsgMeta

	Address uint64
}

// Meta returns the meta data attached to a request.
func (r *InvalidateReq) Meta() *modeling.MsgMeta {
	return &r.MsgMeta
}

// Clone returns a copy of the request with a new ID.
func (r *InvalidateReq) Clone() modeling.Msg {
	c := *r
	c.ID = id.Generate()

	return &c
}

// GetAddress returns the address to invalidate.
func (r *InvalidateReq) GetAddress() uint64 {
	return r.Address
}

// GetByteSize returns 0. An invalidation carries no data.
func (r *InvalidateReq) GetByteSize() uint64 {
	return 0
}

// IsPrefetch always returns false.
func (r *InvalidateReq) IsPrefetch() bool {
	return false
}

// InvalidateReqBuilder can build invalidation requests.
type InvalidateReqBuilder struct {
	src, dst modeling.RemotePort
	address  uint64
}

// WithSrc sets the source of the request to build.
func (b InvalidateReqBuilder) WithSrc(
	src modeling.RemotePort,
) InvalidateReqBuilder {
	b.src = src
	return b
}

// WithDst sets the destination of the request to build.
func (b InvalidateReqBuilder) WithDst(
	dst modeling.RemotePort,
) InvalidateReqBuilder {
	b.dst = dst
	return b
}

// WithAddress sets the address to invalidate.
func (b InvalidateReqBuilder) WithAddress(address uint64) InvalidateReqBuilder {
	b.address = address
	return b
}

// Build creates a new InvalidateReq.
func (b InvalidateReqBuilder) Build() *InvalidateReq {
	r := &InvalidateReq{}
	r.ID = id.Generate()
	r.Src = b.src
	r.Dst = b.dst
	r.Address = b.address
	r.TrafficBytes = accessReqByteOverhead

	return r
}

// A DataReadyRsp is the respond sent from the lower module to the higher
// module that carries the data loaded.
type DataReadyRsp struct {
	modeling.MsgMeta

	RespondTo string // The ID of the request it replies
	Data      []byte
}

// Meta returns the meta data attached to each message.
func (r *DataReadyRsp) Meta() *modeling.MsgMeta {
	return &r.MsgMeta
}

// Clone returns a copy of the response with a new ID.
func (r *DataReadyRsp) Clone() modeling.Msg {
	c := *r
	c.ID = id.Generate()
	c.Data = append([]byte(nil), r.Data...)

	return &c
}

// GetRspTo returns the ID if the request that the respond is responding to.
func (r *DataReadyRsp) GetRspTo() string {
	return r.RespondTo
}

// DataReadyRspBuilder can build data ready responds.
type DataReadyRspBuilder struct {
	src, dst modeling.RemotePort
	rspTo    string
	data     []byte
}

// WithSrc sets the source of the request to build.
func (b DataReadyRspBuilder) WithSrc(
	src modeling.RemotePort,
) DataReadyRspBuilder {
	b.src = src
	return b
}

// WithDst sets the destination of the request to build.
func (b DataReadyRspBuilder) WithDst(
	dst modeling.RemotePort,
) DataReadyRspBuilder {
	b.dst = dst
	return b
}

// WithRspTo sets ID of the request that the respond to build is replying to.
func (b DataReadyRspBuilder) WithRspTo(id string) DataReadyRspBuilder {
	b.rspTo = id
	return b
}

// WithData sets the data of the request to build.
func (b DataReadyRspBuilder) WithData(data []byte) DataReadyRspBuilder {
	b.data = data
	return b
}

// Build creates a new DataReadyRsp
func (b DataReadyRspBuilder) Build() *DataReadyRsp {
	r := &DataReadyRsp{}
	r.ID = id.Generate()
	r.Src = b.src
	r.Dst = b.dst
	r.TrafficBytes = len(b.data) + accessRspByteOverhead
	r.RespondTo = b.rspTo
	r.Data = b.data

	return r
}

// A WriteDoneRsp is a respond sent from the lower module to the higher module
// to mark a previous requests is completed successfully.
type WriteDoneRsp struct {
	modeling.MsgMeta

	RespondTo string
}

// Meta returns the meta data associated with the message.
func (r *WriteDoneRsp) Meta() *modeling.MsgMeta {
	return &r.MsgMeta
}

// Clone returns a copy of the response with a new ID.
func (r *WriteDoneRsp) Clone() modeling.Msg {
	c := *r
	c.ID = id.Generate()

	return &c
}

// GetRspTo returns the ID of the request that the respond is responding to.
func (r *WriteDoneRsp) GetRspTo() string {
	return r.RespondTo
}

// WriteDoneRspBuilder can build data ready responds.
type WriteDoneRspBuilder struct {
	src, dst modeling.RemotePort
	rspTo    string
}

// WithSrc sets the source of the request to build.
func (b WriteDoneRspBuilder) WithSrc(
	src modeling.RemotePort,
) WriteDoneRspBuilder {
	b.src = src
	return b
}

// WithDst sets the destination of the request to build.
func (b WriteDoneRspBuilder) WithDst(
	dst modeling.RemotePort,
) WriteDoneRspBuilder {
	b.dst = dst
	return b
}

// WithRspTo sets ID of the request that the respond to build is replying to.
func (b WriteDoneRspBuilder) WithRspTo(id string) WriteDoneRspBuilder {
	b.rspTo = id
	return b
}

// Build creates a new WriteDoneRsp
func (b WriteDoneRspBuilder) Build() *WriteDoneRsp {
	r := &WriteDoneRsp{}
	r.ID = id.Generate()
	r.Src = b.src
	r.Dst = b.dst
	r.TrafficBytes = accessRspByteOverhead
	r.RespondTo = b.rspTo

	return r
}

// An InvalidateDoneRsp confirms that an invalidation has completed.
type InvalidateDoneRsp struct {
	modeling.MsgMeta

	RespondTo string
}

// Meta returns the meta data associated with the message.
func (r *InvalidateDoneRsp) Meta() *modeling.MsgMeta {
	return &r.MsgMeta
}

// Clone returns a copy of the response with a new ID.
func (r *InvalidateDoneRsp) Clone() modeling.Msg {
	c := *r
	c.ID = id.Generate()

	return &c
}

// GetRspTo returns the ID of the invalidation request.
func (r *InvalidateDoneRsp) GetRspTo() string {
	return r.RespondTo
}

// NewInvalidateDoneRsp creates the response to an InvalidateReq.
func NewInvalidateDoneRsp(
	src modeling.RemotePort,
	req *InvalidateReq,
) *InvalidateDoneRsp {
	r := &InvalidateDoneRsp{}
	r.ID = id.Generate()
	r.Src = src
	r.Dst = req.Src
	r.TrafficBytes = accessRspByteOverhead
	r.RespondTo = req.ID

	return r
}
