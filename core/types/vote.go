package types

// VoteChoice is a validator's verdict on a proposed block.
type VoteChoice byte

const (
	VoteApprove VoteChoice = 0x01
	VoteReject  VoteChoice = 0x02
	VoteAbstain VoteChoice = 0x03
)

func (c VoteChoice) String() string {
	switch c {
	case VoteApprove:
		return "approve"
	case VoteReject:
		return "reject"
	case VoteAbstain:
		return "abstain"
	default:
		return "unknown"
	}
}

// Valid reports whether the choice is one of the three defined verdicts.
func (c VoteChoice) Valid() bool {
	switch c {
	case VoteApprove, VoteReject, VoteAbstain:
		return true
	}
	return false
}

// Vote records a single validator's verdict on a block. At most one vote per
// (block, validator) pair is ever accepted; duplicates are dropped, not
// overwritten.
type Vote struct {
	BlockHash  []byte     `json:"blockHash"`
	Validator  string     `json:"validator"`
	Choice     VoteChoice `json:"choice"`
	Confidence float64    `json:"confidence"`
	Rationale  string     `json:"rationale,omitempty"`
	Timestamp  int64      `json:"timestamp"`
}
