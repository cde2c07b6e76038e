package bot

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/girc"
)

// stopWait bounds how long shutdown waits for a connection loop or a
// supervised task to finish before moving on.
const stopWait = 5 * time.Second

// TaskFunc is a background loop supervised by the Manager. It runs in its
// own goroutine and must return promptly once stop is closed.
type TaskFunc func(stop <-chan struct{})

// Status is a point-in-time snapshot of one managed connection.
type Status struct {
	Name      string   `json:"name"`
	Host      string   `json:"host"`
	Port      int      `json:"port"`
	Connected bool     `json:"connected"`
	Running   bool     `json:"running"`
	TLS       bool     `json:"tls"`
	Nick      string   `json:"nick"`
	Channels  []string `json:"channels"`
}

// Manager owns the whole fleet: one Conn per configured server, the
// channel bookkeeping that follows the bot's own joins and parts, and any
// supervised background tasks. All connections share the Manager's
// settings, handler sets, and metrics.
type Manager struct {
	sync.RWMutex
	settings  Settings
	conns     map[string]*Conn
	order     []string // names in load order, for stable iteration
	units     map[string]chan struct{}
	joined    map[string]map[string]bool
	handlers  []HandlerSet
	tasks     map[string]TaskFunc
	taskUnits map[string]chan struct{}

	quitMessage string
	metrics     *Metrics
	logger      *log.Logger
	stop        chan struct{}
	stopOnce    sync.Once
	started     bool
}

// NewManager builds an empty manager. Add servers with LoadConfigurations
// or AddServer before calling Start.
func NewManager(settings Settings) *Manager {
	base := settings.baseLogger()
	m := &Manager{
		settings:    settings,
		conns:       make(map[string]*Conn),
		units:       make(map[string]chan struct{}),
		joined:      make(map[string]map[string]bool),
		tasks:       make(map[string]TaskFunc),
		taskUnits:   make(map[string]chan struct{}),
		quitMessage: settings.QuitMessage,
		metrics:     NewMetrics(),
		logger:      log.New(base.Writer(), "[manager] ", base.Flags()),
		stop:        make(chan struct{}),
	}
	if m.quitMessage == "" {
		m.quitMessage = "Disconnecting"
	}
	return m
}

// LoadConfigurations registers one connection per server configuration,
// replacing any existing connection with the same name. Returns false
// when no configurations are given.
func (m *Manager) LoadConfigurations(configs ...ServerConfig) bool {
	if len(configs) == 0 {
		m.logger.Printf("No server configurations found")
		return false
	}
	m.Lock()
	for _, cfg := range configs {
		m.installLocked(cfg)
	}
	total := len(m.conns)
	m.Unlock()
	m.logger.Printf("Loaded %d server configurations (%d total)", len(configs), total)
	return true
}

// installLocked builds a fresh connection for cfg and installs it under
// its name, wiring in metrics, bookkeeping, and every handler set
// registered so far. Callers hold the write lock.
func (m *Manager) installLocked(cfg ServerConfig) *Conn {
	c := NewConn(cfg, m.settings)
	c.metrics = m.metrics
	c.RegisterCallback(EventJoin, m.trackJoin)
	c.RegisterCallback(EventPart, m.trackPart)
	c.RegisterCallback(EventDisconnect, m.trackDisconnect)
	for _, hs := range m.handlers {
		c.RegisterHandlerSet(hs)
	}
	if _, exists := m.conns[cfg.Name]; !exists {
		m.order = append(m.order, cfg.Name)
	}
	m.conns[cfg.Name] = c
	if m.joined[cfg.Name] == nil {
		m.joined[cfg.Name] = make(map[string]bool)
	}
	return c
}

// RegisterCallbacks applies the handler set to every connection, current
// and future. Each call appends; nothing is ever replaced.
func (m *Manager) RegisterCallbacks(hs HandlerSet) {
	m.Lock()
	m.handlers = append(m.handlers, hs)
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.Unlock()
	for _, c := range conns {
		c.RegisterHandlerSet(hs)
	}
}

// Start launches the supervised tasks and, when auto-connect is enabled,
// dials every configured server. Returns false when nothing is
// configured.
func (m *Manager) Start() bool {
	m.Lock()
	if len(m.conns) == 0 {
		m.Unlock()
		m.logger.Printf("No servers configured, not starting")
		return false
	}
	m.started = true
	tasks := make(map[string]TaskFunc, len(m.tasks))
	for name, fn := range m.tasks {
		tasks[name] = fn
	}
	total := len(m.conns)
	m.Unlock()

	for name, fn := range tasks {
		m.startTask(name, fn)
	}

	m.logger.Printf("Managing %d servers", total)
	if m.settings.AutoConnect {
		m.Connect()
	}
	return true
}

// Connect starts the run loop for the named servers, or for every
// configured server when no names are given. Already-running connections
// are left alone. Reports whether any loop was started.
func (m *Manager) Connect(names ...string) bool {
	if m.stopped() {
		m.logger.Printf("Manager is stopped, refusing to connect")
		return false
	}

	m.Lock()
	defer m.Unlock()

	started := false
	for _, name := range m.resolveLocked(names) {
		c, ok := m.conns[name]
		if !ok {
			m.logger.Printf("Unknown server %s", name)
			continue
		}
		if unitRunning(m.units[name]) {
			m.logger.Printf("%s is already running", name)
			continue
		}
		if c.stopped() {
			// A disconnected connection cannot restart; rebuild it.
			c = m.installLocked(c.cfg)
		}

		done := make(chan struct{})
		m.units[name] = done
		go func(c *Conn, done chan struct{}) {
			defer close(done)
			c.Run()
		}(c, done)
		started = true
	}
	return started
}

// Disconnect quits the named servers (all when no names are given), ends
// their run loops, and waits up to stopWait for each loop to finish.
// Reports whether any live session was ended.
func (m *Manager) Disconnect(message string, names ...string) bool {
	if message == "" {
		message = m.QuitMessage()
	}

	m.RLock()
	targets := m.resolveLocked(names)
	m.RUnlock()

	ended := false
	for _, name := range targets {
		m.RLock()
		c := m.conns[name]
		unit := m.units[name]
		m.RUnlock()
		if c == nil {
			m.logger.Printf("Unknown server %s", name)
			continue
		}

		if c.IsConnected() {
			ended = true
		}
		c.Quit(message)
		c.Stop()

		if unit != nil {
			select {
			case <-unit:
			case <-time.After(stopWait):
				m.logger.Printf("Connection %s did not stop within %s", name, stopWait)
			}
		}

		m.Lock()
		delete(m.units, name)
		m.joined[name] = make(map[string]bool)
		m.Unlock()
	}
	return ended
}

// Stop disconnects every server with the given quit message and waits for
// the supervised tasks to finish. Safe to call more than once; later
// calls are no-ops.
func (m *Manager) Stop(message string) {
	m.stopOnce.Do(func() {
		m.logger.Printf("Shutting down")
		close(m.stop)
		m.Disconnect(message)
		m.waitTasks()
		m.logger.Printf("Shutdown complete")
	})
}

func (m *Manager) stopped() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

// resolveLocked expands an empty name list to every configured server.
// Callers hold at least the read lock.
func (m *Manager) resolveLocked(names []string) []string {
	if len(names) == 0 {
		return append([]string(nil), m.order...)
	}
	return names
}

// AddServer validates, registers, and immediately connects a server at
// runtime. Returns false when validation fails or the name is taken.
func (m *Manager) AddServer(name, host string, port int, channels, keys []string, useTLS bool) bool {
	cfg, err := NewServerConfig(name, host, port, channels, keys, useTLS, false)
	if err != nil {
		m.logger.Printf("Rejecting server %s: %v", name, err)
		return false
	}

	m.Lock()
	if _, exists := m.conns[cfg.Name]; exists {
		m.Unlock()
		m.logger.Printf("Server %s already configured", cfg.Name)
		return false
	}
	m.installLocked(cfg)
	m.Unlock()

	m.logger.Printf("Added server %s (%s)", cfg.Name, cfg.Addr())
	return m.Connect(cfg.Name)
}

// AddTask registers a named background loop the Manager supervises. Tasks
// start with the Manager and receive its stop channel at shutdown; a task
// added after Start begins immediately.
func (m *Manager) AddTask(name string, fn TaskFunc) {
	if name == "" || fn == nil {
		return
	}
	m.Lock()
	if _, exists := m.tasks[name]; exists {
		m.Unlock()
		m.logger.Printf("Task %s already registered", name)
		return
	}
	m.tasks[name] = fn
	started := m.started
	m.Unlock()

	if started {
		m.startTask(name, fn)
	}
}

func (m *Manager) startTask(name string, fn TaskFunc) {
	done := make(chan struct{})
	m.Lock()
	if _, running := m.taskUnits[name]; running {
		m.Unlock()
		return
	}
	m.taskUnits[name] = done
	m.Unlock()

	m.logger.Printf("Starting task %s", name)
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				m.logger.Printf("PANIC in task %s: %v", name, r)
			}
		}()
		fn(m.stop)
	}()
}

func (m *Manager) waitTasks() {
	m.RLock()
	units := make(map[string]chan struct{}, len(m.taskUnits))
	for name, done := range m.taskUnits {
		units[name] = done
	}
	m.RUnlock()

	for name, done := range units {
		select {
		case <-done:
		case <-time.After(stopWait):
			m.logger.Printf("Task %s did not stop within %s", name, stopWait)
		}
	}
}

// Send delivers a PRIVMSG through the named server. A channel target not
// yet tracked as joined is recorded on the way out.
func (m *Manager) Send(name, target, text string) bool {
	c, ok := m.GetConn(name)
	if !ok {
		m.logger.Printf("Unknown server %s", name)
		return false
	}
	m.recordChannel(name, target)
	c.SendMessage(target, text)
	return true
}

// Notice delivers a NOTICE through the named server.
func (m *Manager) Notice(name, target, text string) bool {
	c, ok := m.GetConn(name)
	if !ok {
		m.logger.Printf("Unknown server %s", name)
		return false
	}
	m.recordChannel(name, target)
	c.SendNotice(target, text)
	return true
}

// SendToAll delivers a PRIVMSG to the same target on every connected
// server.
func (m *Manager) SendToAll(target, text string) {
	for _, c := range m.allConns() {
		if !c.IsConnected() {
			continue
		}
		m.recordChannel(c.Name(), target)
		c.SendMessage(target, text)
	}
}

// NoticeToAll delivers a NOTICE to the same target on every connected
// server.
func (m *Manager) NoticeToAll(target, text string) {
	for _, c := range m.allConns() {
		if !c.IsConnected() {
			continue
		}
		m.recordChannel(c.Name(), target)
		c.SendNotice(target, text)
	}
}

// JoinChannel joins a channel on the named server, with an optional key.
func (m *Manager) JoinChannel(name, channel, key string) bool {
	channel = NormalizeChannel(channel)
	if channel == "" || !girc.IsValidChannel(channel) {
		m.logger.Printf("Refusing to join invalid channel %q", channel)
		return false
	}
	c, ok := m.GetConn(name)
	if !ok {
		m.logger.Printf("Unknown server %s", name)
		return false
	}

	if key != "" {
		c.SendRaw("JOIN " + channel + " " + key)
	} else {
		c.SendRaw("JOIN " + channel)
	}
	m.recordChannel(name, channel)
	return true
}

// PartChannel leaves a channel on the named server.
func (m *Manager) PartChannel(name, channel, reason string) bool {
	channel = NormalizeChannel(channel)
	if channel == "" {
		return false
	}
	c, ok := m.GetConn(name)
	if !ok {
		m.logger.Printf("Unknown server %s", name)
		return false
	}

	if reason != "" {
		c.SendRaw("PART " + channel + " :" + reason)
	} else {
		c.SendRaw("PART " + channel)
	}
	m.Lock()
	delete(m.joined[name], channel)
	m.Unlock()
	return true
}

// trackJoin records a channel once the server confirms the bot's own
// JOIN. Other users' joins are not bookkeeping events.
func (m *Manager) trackJoin(c *Conn, sender, identHost, channel string) {
	if !strings.EqualFold(sender, c.Nick()) {
		return
	}
	m.recordChannel(c.Name(), channel)
	m.logger.Printf("%s is now in %s", c.Name(), channel)
}

func (m *Manager) trackPart(c *Conn, sender, channel, identHost string) {
	if !strings.EqualFold(sender, c.Nick()) {
		return
	}
	m.Lock()
	delete(m.joined[c.Name()], channel)
	m.Unlock()
	m.logger.Printf("%s left %s", c.Name(), channel)
}

func (m *Manager) trackDisconnect(c *Conn) {
	m.Lock()
	m.joined[c.Name()] = make(map[string]bool)
	m.Unlock()
}

func (m *Manager) recordChannel(name, target string) {
	if !strings.HasPrefix(target, "#") && !strings.HasPrefix(target, "&") {
		return
	}
	m.Lock()
	set := m.joined[name]
	if set == nil {
		set = make(map[string]bool)
		m.joined[name] = set
	}
	set[target] = true
	m.Unlock()
}

// GetStatus snapshots the named connection's state.
func (m *Manager) GetStatus(name string) (Status, bool) {
	m.RLock()
	defer m.RUnlock()
	c, ok := m.conns[name]
	if !ok {
		return Status{}, false
	}
	return m.statusLocked(name, c), true
}

// Statuses snapshots every configured connection, keyed by name.
func (m *Manager) Statuses() map[string]Status {
	m.RLock()
	defer m.RUnlock()
	out := make(map[string]Status, len(m.conns))
	for name, c := range m.conns {
		out[name] = m.statusLocked(name, c)
	}
	return out
}

func (m *Manager) statusLocked(name string, c *Conn) Status {
	channels := make([]string, 0, len(m.joined[name]))
	for ch := range m.joined[name] {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	cfg := c.Config()
	return Status{
		Name:      name,
		Host:      cfg.Host,
		Port:      cfg.Port,
		Connected: c.IsConnected(),
		Running:   unitRunning(m.units[name]),
		TLS:       c.IsTLS(),
		Nick:      c.Nick(),
		Channels:  channels,
	}
}

// JoinedChannels lists the channels currently tracked for one server.
func (m *Manager) JoinedChannels(name string) []string {
	m.RLock()
	defer m.RUnlock()
	channels := make([]string, 0, len(m.joined[name]))
	for ch := range m.joined[name] {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels
}

// GetConn returns the named connection.
func (m *Manager) GetConn(name string) (*Conn, bool) {
	m.RLock()
	defer m.RUnlock()
	c, ok := m.conns[name]
	return c, ok
}

// Names lists configured server names in load order.
func (m *Manager) Names() []string {
	m.RLock()
	defer m.RUnlock()
	return append([]string(nil), m.order...)
}

func (m *Manager) allConns() []*Conn {
	m.RLock()
	defer m.RUnlock()
	conns := make([]*Conn, 0, len(m.order))
	for _, name := range m.order {
		conns = append(conns, m.conns[name])
	}
	return conns
}

// Metrics exposes the fleet's Prometheus collectors for serving.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// SetQuitMessage changes the message later disconnects use by default.
func (m *Manager) SetQuitMessage(message string) {
	if message == "" {
		return
	}
	m.Lock()
	m.quitMessage = message
	m.Unlock()
}

// QuitMessage returns the current default quit message.
func (m *Manager) QuitMessage() string {
	m.RLock()
	defer m.RUnlock()
	return m.quitMessage
}

func unitRunning(done chan struct{}) bool {
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}
