package orchestrator

// Kind enumerates the event stream a single Orchestrator run produces
// (§3, §4.6.1). Events arrive in one strict order per stage: a *Start,
// zero or more mid-stage events, then exactly one *End carrying the
// stage's outcome. A stage error is terminal: no later stage's events
// follow it.
type Kind int

const (
	BootStart Kind = iota
	Boot
	BootEnd
	SetupStart
	Setup
	SetupEnd
	CommandStart
	Command
	CommandEnd
)

func (k Kind) String() string {
	switch k {
	case BootStart:
		return "BootStart"
	case Boot:
		return "Boot"
	case BootEnd:
		return "BootEnd"
	case SetupStart:
		return "SetupStart"
	case Setup:
		return "Setup"
	case SetupEnd:
		return "SetupEnd"
	case CommandStart:
		return "CommandStart"
	case Command:
		return "Command"
	case CommandEnd:
		return "CommandEnd"
	default:
		return "Unknown"
	}
}

// Event is one entry in the stream a Run emits. Line is populated for the
// Boot/Setup/Command mid-stage kinds. Err and ExitCode are populated for
// the *End kinds: Err non-nil means the stage failed outright; for
// CommandEnd with Err nil, ExitCode carries the guest command's exit
// status.
type Event struct {
	Kind     Kind
	Line     string
	Err      error
	ExitCode int
}

func evBootStart() Event       { return Event{Kind: BootStart} }
func evBoot(line string) Event { return Event{Kind: Boot, Line: line} }
func evBootEnd(err error) Event {
	return Event{Kind: BootEnd, Err: err}
}

func evSetupStart() Event       { return Event{Kind: SetupStart} }
func evSetup(line string) Event { return Event{Kind: Setup, Line: line} }
func evSetupEnd(err error) Event {
	return Event{Kind: SetupEnd, Err: err}
}

func evCommandStart() Event       { return Event{Kind: CommandStart} }
func evCommand(line string) Event { return Event{Kind: Command, Line: line} }
func evCommandEndErr(err error) Event {
	return Event{Kind: CommandEnd, Err: err}
}
func evCommandEndOk(code int) Event {
	return Event{Kind: CommandEnd, ExitCode: code}
}
