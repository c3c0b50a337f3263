package fragment

// Reassembler buffers incoming fragments keyed by instruction_id and emits
// the concatenated instruction payload once a complete set arrives. It is
// not safe for concurrent use: the transport session serializes all calls.
//
// Capacity is fixed at maxPending entries. Past the cap, the set evicted to
// make room for a new id is the one furthest behind it in instruction_id
// space, measured as the signed 16-bit distance id-newID: instruction_id
// wraps at 65536, so plain numeric comparison would treat an id that has
// just wrapped around as the newest rather than the oldest.
const maxPending = 32

type fragmentSet struct {
	instructionID uint16
	parts         map[uint16][]byte
	finalIndex    int32 // -1 until the final fragment has been seen
}

func newFragmentSet(id uint16) *fragmentSet {
	return &fragmentSet{
		instructionID: id,
		parts:         make(map[uint16][]byte),
		finalIndex:    -1,
	}
}

func (s *fragmentSet) insert(p parsed) {
	if _, dup := s.parts[p.index]; dup {
		return
	}
	s.parts[p.index] = p.body
	if p.final {
		s.finalIndex = int32(p.index)
	}
}

func (s *fragmentSet) complete() bool {
	return s.finalIndex >= 0 && len(s.parts) == int(s.finalIndex)+1
}

func (s *fragmentSet) assemble() []byte {
	var out []byte
	for i := 0; i <= int(s.finalIndex); i++ {
		out = append(out, s.parts[uint16(i)]...)
	}
	return out
}

// Reassembler holds at most maxPending in-flight fragment sets.
type Reassembler struct {
	pending map[uint16]*fragmentSet
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{pending: make(map[uint16]*fragmentSet)}
}

// Ingest absorbs one fragment. It returns the completed instruction payload
// and true once every fragment of its instruction_id has arrived; otherwise
// it returns (nil, false). Malformed fragments are reported via err; the
// caller drops them silently, consistent with the lossy UDP path.
func (r *Reassembler) Ingest(frag []byte) (payload []byte, complete bool, err error) {
	p, err := parse(frag)
	if err != nil {
		return nil, false, err
	}

	if set, ok := r.pending[p.instructionID]; !ok {
		if p.final && p.index == 0 {
			return p.body, true, nil
		}
		set = newFragmentSet(p.instructionID)
		set.insert(p)
		r.admit(p.instructionID, set)
		return nil, false, nil
	} else {
		set.insert(p)
		if set.complete() {
			out := set.assemble()
			delete(r.pending, p.instructionID)
			return out, true, nil
		}
		return nil, false, nil
	}
}

func (r *Reassembler) admit(id uint16, set *fragmentSet) {
	if len(r.pending) >= maxPending {
		delete(r.pending, r.furthestBehind(id))
	}
	r.pending[id] = set
}

// furthestBehind returns the pending instruction_id with the most negative
// signed-16-bit distance to newID, i.e. the one newID has wrapped furthest
// past.
func (r *Reassembler) furthestBehind(newID uint16) uint16 {
	var evict uint16
	var worst int32 = 1<<31 - 1
	for id := range r.pending {
		d := int32(int16(id - newID))
		if d < worst {
			worst = d
			evict = id
		}
	}
	return evict
}

// Pending reports how many instruction ids currently have an incomplete set.
func (r *Reassembler) Pending() int {
	return len(r.pending)
}
