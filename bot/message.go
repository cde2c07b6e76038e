package bot

import (
	"strings"
)

// Message is a decoded IRC protocol line.
type Message struct {
	Prefix  string
	Command string
	Params  []string
}

// ParseMessage splits an IRC line into prefix, command, and parameters.
// It returns nil for lines that do not look like IRC messages.
func ParseMessage(line string) *Message {
	if line == "" {
		return nil
	}

	msg := &Message{
		Params: make([]string, 0),
	}

	if line[0] == ':' {
		parts := strings.SplitN(line[1:], " ", 2)
		if len(parts) < 2 {
			return nil
		}
		msg.Prefix = parts[0]
		line = parts[1]
	}

	parts := strings.SplitN(line, " ", 2)
	if parts[0] == "" {
		return nil
	}

	msg.Command = strings.ToUpper(parts[0])
	if len(parts) > 1 {
		paramPart := parts[1]

		for paramPart != "" {
			// A leading colon marks the trailing parameter, spaces and all
			if paramPart[0] == ':' {
				msg.Params = append(msg.Params, paramPart[1:])
				break
			}

			parts := strings.SplitN(paramPart, " ", 2)
			msg.Params = append(msg.Params, parts[0])
			if len(parts) > 1 {
				paramPart = parts[1]
			} else {
				break
			}
		}
	}

	return msg
}

// String renders the message back into wire format, without the CRLF.
func (m *Message) String() string {
	var builder strings.Builder

	if m.Prefix != "" {
		builder.WriteString(":")
		builder.WriteString(m.Prefix)
		builder.WriteString(" ")
	}

	builder.WriteString(m.Command)

	for i, param := range m.Params {
		builder.WriteString(" ")

		if i == len(m.Params)-1 && (strings.Contains(param, " ") || param == "" || strings.HasPrefix(param, ":")) {
			builder.WriteString(":")
		}
		builder.WriteString(param)
	}

	return builder.String()
}

// SplitPrefix breaks a nick!user@host prefix into the nickname and the
// user@host remainder. A prefix without "!" (a server name) returns an
// empty identHost.
func SplitPrefix(prefix string) (nick, identHost string) {
	parts := strings.SplitN(prefix, "!", 2)
	nick = parts[0]
	if len(parts) == 2 {
		identHost = parts[1]
	}
	return
}

// ParseHostmask splits nick!user@host into its three parts.
func ParseHostmask(hostmask string) (nick, user, host string) {
	nickParts := strings.SplitN(hostmask, "!", 2)
	if len(nickParts) < 2 {
		nick = hostmask
		return
	}
	nick = nickParts[0]

	userHostParts := strings.SplitN(nickParts[1], "@", 2)
	if len(userHostParts) < 2 {
		user = nickParts[1]
		return
	}
	user = userHostParts[0]
	host = userHostParts[1]

	return
}

// numericCode reports whether a command is a three-digit numeric reply.
func numericCode(command string) (int, bool) {
	if len(command) != 3 {
		return 0, false
	}
	code := 0
	for _, r := range command {
		if r < '0' || r > '9' {
			return 0, false
		}
		code = code*10 + int(r-'0')
	}
	return code, true
}

// extractEvent maps a parsed message onto the dispatchable event kinds.
// Lines that match no kind (or user events missing a nick!user@host
// prefix) return ok=false and are skipped.
func extractEvent(msg *Message, raw string) (Event, bool) {
	if msg == nil {
		return Event{}, false
	}

	if code, ok := numericCode(msg.Command); ok {
		ev := Event{Kind: EventNumeric, Raw: raw, Code: code}
		if len(msg.Params) > 0 {
			ev.Target = msg.Params[0]
			ev.Params = strings.Join(msg.Params[1:], " ")
		}
		return ev, true
	}

	sender, identHost := SplitPrefix(msg.Prefix)

	switch msg.Command {
	case "PRIVMSG", "NOTICE":
		if identHost == "" || len(msg.Params) < 2 {
			return Event{}, false
		}
		kind := EventMessage
		if msg.Command == "NOTICE" {
			kind = EventNotice
		}
		return Event{
			Kind:      kind,
			Raw:       raw,
			Sender:    sender,
			IdentHost: identHost,
			Target:    msg.Params[0],
			Text:      msg.Params[1],
		}, true

	case "JOIN":
		if identHost == "" || len(msg.Params) < 1 {
			return Event{}, false
		}
		return Event{
			Kind:      EventJoin,
			Raw:       raw,
			Sender:    sender,
			IdentHost: identHost,
			Channel:   msg.Params[0],
		}, true

	case "PART":
		if identHost == "" || len(msg.Params) < 1 {
			return Event{}, false
		}
		ev := Event{
			Kind:      EventPart,
			Raw:       raw,
			Sender:    sender,
			IdentHost: identHost,
			Channel:   msg.Params[0],
		}
		if len(msg.Params) > 1 {
			ev.Text = msg.Params[1]
		}
		return ev, true

	case "QUIT":
		if identHost == "" {
			return Event{}, false
		}
		ev := Event{
			Kind:      EventQuit,
			Raw:       raw,
			Sender:    sender,
			IdentHost: identHost,
		}
		if len(msg.Params) > 0 {
			ev.Text = msg.Params[0]
		}
		return ev, true
	}

	return Event{}, false
}
