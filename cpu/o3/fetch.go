package o3

import (
	"fmt"
	"log"

	"github.com/sarchlab/o3sim/isa"
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/tracing"
)

// FetchPolicy selects the thread that fetches in a cycle.
type FetchPolicy int

// The fetch policies.
const (
	// FetchRoundRobin rotates among the threads that can fetch.
	FetchRoundRobin FetchPolicy = iota

	// FetchICount picks the thread with the fewest instructions in the
	// front end and the instruction window.
	FetchICount
)

func (p FetchPolicy) String() string {
	switch p {
	case FetchRoundRobin:
		return "roundrobin"
	case FetchICount:
		return "icount"
	}

	return "unknown"
}

// ParseFetchPolicy converts a policy name into a FetchPolicy.
func ParseFetchPolicy(name string) (FetchPolicy, error) {
	switch name {
	case "roundrobin", "rr":
		return FetchRoundRobin, nil
	case "icount":
		return FetchICount, nil
	}

	return 0, fmt.Errorf("unknown fetch policy %q", name)
}

// fetchStage sends one block request per cycle to the instruction cache and
// turns returned blocks into instructions.
type fetchStage struct {
	*Comp
}

func (s *fetchStage) Tick() bool {
	madeProgress := s.receive()
	madeProgress = s.send() || madeProgress

	return madeProgress
}

func (s *fetchStage) receive() bool {
	msg := s.iCachePort.PeekIncoming()
	if msg == nil {
		return false
	}

	rsp, ok := msg.(*mem.DataReadyRsp)
	if !ok {
		log.Panicf("%s cannot handle %T on the instruction port", s.Name(), msg)
	}

	s.iCachePort.RetrieveIncoming()

	t := s.threadWaitingFor(rsp.RespondTo)
	if t == nil {
		return true
	}

	tracing.TraceReqFinalize(t.fetchReq, s.Comp)
	t.fetchReq = nil

	for off := 0; off+isa.InstBytes <= len(rsp.Data); off += isa.InstBytes {
		d := &dynInst{
			seq: s.nextSeq,
			tid: t.id,
			pc:  t.fetchPC,
		}
		s.nextSeq++

		inst, err := isa.Decode(rsp.Data[off : off+isa.InstBytes])
		if err != nil {
			d.illegal = true
		}

		d.inst = inst
		t.fetchQ.Push(d)
		t.fetchPC += isa.InstBytes
	}

	return true
}

func (s *fetchStage) threadWaitingFor(reqID string) *thread {
	for _, t := range s.threads {
		if t.fetchReq != nil && t.fetchReq.ID == reqID {
			return t
		}
	}

	return nil
}

func (s *fetchStage) send() bool {
	if s.draining {
		return false
	}

	t := s.pickThread()
	if t == nil {
		return false
	}

	blockEnd := (t.fetchPC/s.blockSize + 1) * s.blockSize
	numInsts := min(
		int((blockEnd-t.fetchPC)/isa.InstBytes),
		s.fetchWidth,
		t.fetchQ.Capacity()-t.fetchQ.Size(),
	)

	req := mem.ReadReqBuilder{}.
		WithSrc(s.iCachePort.AsRemote()).
		WithDst(s.iMapper.Find(t.fetchPC)).
		WithAddress(t.fetchPC).
		WithByteSize(uint64(numInsts * isa.InstBytes)).
		WithIssueTime(s.CurrentTime()).
		WithInfo(&mem.InstInfo{PC: t.fetchPC, ThreadID: t.id}).
		Build()

	if err := s.iCachePort.Send(req); err != nil {
		return false
	}

	tracing.TraceReqInitiate(req, s.Comp, "")

	t.fetchReq = req
	s.fetchRR = (t.id + 1) % len(s.threads)
	s.stats.Fetches++

	return true
}

func (s *fetchStage) canFetch(t *thread) bool {
	return t.running() &&
		!t.fetchBlocked &&
		t.fetchReq == nil &&
		t.fetchQ.Size() == 0 &&
		s.fetchable(t.fetchPC)
}

// fetchable filters out wrong-path targets that no memory backs. A thread
// stuck on such a PC waits for the branch that led there to be squashed.
func (s *fetchStage) fetchable(pc uint64) bool {
	if pc%isa.InstBytes != 0 {
		return false
	}

	return s.addrLimit == 0 || pc+isa.InstBytes <= s.addrLimit
}

func (s *fetchStage) pickThread() *thread {
	var picked *thread

	n := len(s.threads)
	for i := range n {
		t := s.threads[(s.fetchRR+i)%n]
		if !s.canFetch(t) {
			continue
		}

		if s.fetchPolicy == FetchRoundRobin {
			return t
		}

		if picked == nil || t.icount() < picked.icount() {
			picked = t
		}
	}

	return picked
}
