package bot

// EventKind names a class of inbound IRC activity that handlers can
// subscribe to through RegisterCallback.
type EventKind string

const (
	EventMessage    EventKind = "message"
	EventNotice     EventKind = "notice"
	EventJoin       EventKind = "join"
	EventPart       EventKind = "part"
	EventQuit       EventKind = "quit"
	EventNumeric    EventKind = "numeric"
	EventRaw        EventKind = "raw"
	EventDisconnect EventKind = "disconnect"
)

// Handler signatures per event kind. Sender is the nickname portion of the
// message prefix, identHost the user@host remainder.
type (
	MessageHandler    func(c *Conn, sender, identHost, target, text string)
	NoticeHandler     func(c *Conn, sender, identHost, target, text string)
	JoinHandler       func(c *Conn, sender, identHost, channel string)
	PartHandler       func(c *Conn, sender, channel, identHost string)
	QuitHandler       func(c *Conn, sender, identHost string)
	NumericHandler    func(c *Conn, code int, target, params string)
	RawHandler        func(c *Conn, line string)
	DisconnectHandler func(c *Conn)
)

// HandlerSet bundles one handler per event kind for bulk registration via
// Manager.RegisterCallbacks. Nil fields are skipped.
type HandlerSet struct {
	Raw        RawHandler
	Message    MessageHandler
	Notice     NoticeHandler
	Join       JoinHandler
	Part       PartHandler
	Quit       QuitHandler
	Numeric    NumericHandler
	Disconnect DisconnectHandler
}

// Event is one parsed inbound line. Which fields are populated depends on
// Kind; Raw always carries the original line.
type Event struct {
	Kind      EventKind
	Raw       string
	Sender    string // nickname from the prefix
	IdentHost string // user@host from the prefix
	Target    string // message/notice destination
	Channel   string // join/part channel
	Text      string // message/notice body, part/quit reason
	Code      int    // numeric reply code
	Params    string // numeric reply remainder
}
