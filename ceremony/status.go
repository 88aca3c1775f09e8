package ceremony

import (
	"bytes"
	"fmt"

	json "github.com/nikkolasg/hexjson"
)

// StatusKind is the variant of a ContributorStatus.
type StatusKind int

const (
	StatusOther StatusKind = iota
	StatusQueue
	StatusRound
	StatusFinished
)

func (k StatusKind) String() string {
	switch k {
	case StatusQueue:
		return "Queue"
	case StatusRound:
		return "Round"
	case StatusFinished:
		return "Finished"
	default:
		return "Other"
	}
}

// ContributorStatus is the coordinator's answer to a queue status poll.
// Position and Size are only meaningful for StatusQueue. Position is 1 based.
type ContributorStatus struct {
	Kind     StatusKind
	Position uint64
	Size     uint64
}

func Queue(position, size uint64) ContributorStatus {
	return ContributorStatus{Kind: StatusQueue, Position: position, Size: size}
}

func Round() ContributorStatus    { return ContributorStatus{Kind: StatusRound} }
func Finished() ContributorStatus { return ContributorStatus{Kind: StatusFinished} }
func Other() ContributorStatus    { return ContributorStatus{Kind: StatusOther} }

func (s ContributorStatus) String() string {
	if s.Kind == StatusQueue {
		return fmt.Sprintf("Queue(%d/%d)", s.Position, s.Size)
	}
	return s.Kind.String()
}

// MarshalJSON encodes Queue as {"Queue":[position,size]} and the other
// variants as bare strings.
func (s ContributorStatus) MarshalJSON() ([]byte, error) {
	if s.Kind == StatusQueue {
		return json.Marshal(map[string][2]uint64{"Queue": {s.Position, s.Size}})
	}
	return json.Marshal(s.Kind.String())
}

// UnmarshalJSON decodes the encoding of MarshalJSON. Unknown variants decode
// to StatusOther.
func (s *ContributorStatus) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		switch name {
		case "Round":
			*s = Round()
		case "Finished":
			*s = Finished()
		default:
			*s = Other()
		}
		return nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(b, &tagged); err != nil {
		return fmt.Errorf("invalid contributor status %q: %w", b, err)
	}
	raw, ok := tagged["Queue"]
	if !ok {
		*s = Other()
		return nil
	}
	var pos [2]uint64
	if err := json.Unmarshal(raw, &pos); err != nil {
		return fmt.Errorf("invalid queue status %q: %w", raw, err)
	}
	*s = Queue(pos[0], pos[1])
	return nil
}
