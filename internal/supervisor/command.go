package supervisor

import (
	"fmt"

	"github.com/segfaultgame/engine/internal/shardstate"
)

// IntakeVerb is the external command vocabulary accepted by Submit. It is
// a superset of shardstate.Verb: MOVE/BUFFER/IDLE translate directly into
// a process's buffered-command slot, while BROADCAST/SAY bypass it and go
// straight to the shard's ledgers.
type IntakeVerb string

const (
	VerbMove      IntakeVerb = "MOVE"
	VerbBuffer    IntakeVerb = "BUFFER"
	VerbIdle      IntakeVerb = "IDLE"
	VerbBroadcast IntakeVerb = "BROADCAST"
	VerbSay       IntakeVerb = "SAY"
)

// maxMessageCodepoints bounds BROADCAST/SAY text length.
const maxMessageCodepoints = 256

// Command is one validated external intake instruction.
type Command struct {
	Verb IntakeVerb
	Arg  int    // keypad digit 1..9 for MOVE/BUFFER; unused otherwise
	Text string // message text for BROADCAST/SAY
}

// ParseCommand validates a raw verb/arg/text triple, rejecting unknown
// verbs or malformed arguments before they ever reach the core. Argument 5
// or absent (0) is treated as IDLE per the movement resolver's contract.
func ParseCommand(verb string, arg int, text string) (Command, error) {
	switch IntakeVerb(verb) {
	case VerbMove, VerbBuffer:
		if arg == 0 {
			arg = 5
		}
		if arg < 1 || arg > 9 {
			return Command{}, fmt.Errorf("invalid keypad digit: %d", arg)
		}
		return Command{Verb: IntakeVerb(verb), Arg: arg}, nil
	case VerbIdle:
		return Command{Verb: VerbIdle}, nil
	case VerbBroadcast, VerbSay:
		return Command{Verb: IntakeVerb(verb), Text: truncate(text, maxMessageCodepoints)}, nil
	default:
		return Command{}, fmt.Errorf("unknown command verb: %q", verb)
	}
}

// toBufferedVerb maps a MOVE/BUFFER/IDLE intake command onto the core
// pipeline's shardstate.Verb. Arg 5 downgrades to IDLE per the movement
// resolver's contract.
func (c Command) toBufferedVerb() (shardstate.Verb, int) {
	switch c.Verb {
	case VerbMove:
		if c.Arg == 5 {
			return shardstate.VerbIdle, 0
		}
		return shardstate.VerbMove, c.Arg
	case VerbBuffer:
		if c.Arg == 5 {
			return shardstate.VerbIdle, 0
		}
		return shardstate.VerbBuffer, c.Arg
	default:
		return shardstate.VerbIdle, 0
	}
}

func truncate(s string, maxCodepoints int) string {
	runes := []rune(s)
	if len(runes) <= maxCodepoints {
		return s
	}
	return string(runes[:maxCodepoints])
}
