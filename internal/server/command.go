package server

import "strings"

// CommandKind identifies a parsed client line.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandLogin
	CommandMsg
	CommandWho
	CommandDM
	CommandPing
)

func (k CommandKind) String() string {
	switch k {
	case CommandLogin:
		return "LOGIN"
	case CommandMsg:
		return "MSG"
	case CommandWho:
		return "WHO"
	case CommandDM:
		return "DM"
	case CommandPing:
		return "PING"
	default:
		return "UNKNOWN"
	}
}

// Command is one parsed client line.
type Command struct {
	Kind CommandKind
	// Arg is the login name for LOGIN, the message text for MSG, and the
	// target username for DM.
	Arg string
	// Text is the DM body.
	Text string
	// Err is set for a DM line that does not carry both a target and text.
	Err error
}

// ParseCommand classifies line by its leading token. The line is trimmed of
// surrounding whitespace first; keywords are case-sensitive.
func ParseCommand(line string) Command {
	line = strings.TrimSpace(line)
	keyword, rest, _ := strings.Cut(line, " ")

	switch keyword {
	case "LOGIN":
		return Command{Kind: CommandLogin, Arg: strings.TrimSpace(rest)}
	case "MSG":
		return Command{Kind: CommandMsg, Arg: strings.TrimSpace(rest)}
	case "WHO":
		if rest != "" {
			break
		}
		return Command{Kind: CommandWho}
	case "PING":
		if rest != "" {
			break
		}
		return Command{Kind: CommandPing}
	case "DM":
		target, text, ok := strings.Cut(strings.TrimSpace(rest), " ")
		if !ok || target == "" {
			return Command{Kind: CommandDM, Err: ErrInvalidDMFormat}
		}
		return Command{Kind: CommandDM, Arg: target, Text: text}
	}
	return Command{Kind: CommandUnknown}
}
