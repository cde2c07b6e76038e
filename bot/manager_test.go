package bot_test

import (
	"testing"
	"time"

	"github.com/presbrey/ircbot/bot"
	"github.com/stretchr/testify/assert"
)

func TestManagerLifecycle(t *testing.T) {
	serverA := newIRCServer(t)
	serverB := newIRCServer(t)

	hostA, portA := serverA.HostPort()
	hostB, portB := serverB.HostPort()

	cfgA, err := bot.NewServerConfig("alpha", hostA, portA, []string{"#ops"}, nil, false, false)
	assert.NoError(t, err, "Should build the alpha config")
	cfgB, err := bot.NewServerConfig("beta", hostB, portB, []string{"#dev"}, nil, false, false)
	assert.NoError(t, err, "Should build the beta config")
	cfgA.ReconnectInitial = 50 * time.Millisecond
	cfgB.ReconnectInitial = 50 * time.Millisecond

	settings := bot.DefaultSettings()
	settings.Nick = "fleetbot"
	m := bot.NewManager(settings)
	t.Cleanup(func() { m.Stop("") })

	assert.True(t, m.LoadConfigurations(cfgA, cfgB), "Should load both configurations")
	assert.Equal(t, []string{"alpha", "beta"}, m.Names(), "Should list servers in load order")
	assert.True(t, m.Start(), "Should start with servers configured")
	assert.True(t, m.Connect(), "Should start both run loops")

	sessA := serverA.Accept(5 * time.Second)
	sessA.Login()
	_, err = sessA.Expect("JOIN #ops", 5*time.Second)
	assert.NoError(t, err, "Should join on alpha")

	sessB := serverB.Accept(5 * time.Second)
	sessB.Login()
	_, err = sessB.Expect("JOIN #dev", 5*time.Second)
	assert.NoError(t, err, "Should join on beta")

	status, ok := m.GetStatus("alpha")
	assert.True(t, ok, "Should know the alpha server")
	assert.True(t, status.Connected, "Should report alpha connected")
	assert.True(t, status.Running, "Should report the alpha loop running")
	assert.Equal(t, "fleetbot", status.Nick, "Should report the negotiated nick")
	assert.Equal(t, hostA, status.Host, "Should report the configured host")
	assert.Equal(t, portA, status.Port, "Should report the configured port")

	assert.True(t, m.Send("alpha", "#ops", "deploy done"), "Should route a message to alpha")
	_, err = sessA.Expect("PRIVMSG #ops :deploy done", 5*time.Second)
	assert.NoError(t, err, "Should deliver the message on alpha")

	assert.True(t, m.Notice("beta", "#dev", "build green"), "Should route a notice to beta")
	_, err = sessB.Expect("NOTICE #dev :build green", 5*time.Second)
	assert.NoError(t, err, "Should deliver the notice on beta")

	m.SendToAll("#status", "hello everyone")
	_, err = sessA.Expect("PRIVMSG #status :hello everyone", 5*time.Second)
	assert.NoError(t, err, "Should broadcast to alpha")
	_, err = sessB.Expect("PRIVMSG #status :hello everyone", 5*time.Second)
	assert.NoError(t, err, "Should broadcast to beta")

	assert.True(t, m.JoinChannel("beta", "extra", ""), "Should join a new channel by name")
	_, err = sessB.Expect("JOIN #extra", 5*time.Second)
	assert.NoError(t, err, "Should send the JOIN on beta")
	assert.Contains(t, m.JoinedChannels("beta"), "#extra", "Should track the new channel")

	assert.True(t, m.PartChannel("beta", "#extra", "done here"), "Should part the channel")
	_, err = sessB.Expect("PART #extra :done here", 5*time.Second)
	assert.NoError(t, err, "Should send the PART on beta")
	assert.NotContains(t, m.JoinedChannels("beta"), "#extra", "Should drop the parted channel")

	assert.True(t, m.Disconnect("maintenance", "alpha"), "Should end the alpha session")
	_, err = sessA.Expect("QUIT :maintenance", 5*time.Second)
	assert.NoError(t, err, "Should quit alpha with the given message")

	status, ok = m.GetStatus("alpha")
	assert.True(t, ok, "Should still know alpha after disconnect")
	assert.False(t, status.Running, "Should report the alpha loop stopped")

	m.Stop("done for today")
	_, err = sessB.Expect("QUIT :done for today", 5*time.Second)
	assert.NoError(t, err, "Should quit beta during shutdown")

	// Stop is idempotent and a stopped manager refuses new connects.
	m.Stop("again")
	assert.False(t, m.Connect(), "Should refuse to connect after Stop")
}

func TestManagerStartWithoutServers(t *testing.T) {
	m := bot.NewManager(bot.DefaultSettings())
	assert.False(t, m.LoadConfigurations(), "Should report nothing loaded")
	assert.False(t, m.Start(), "Should refuse to start with no servers")
}

func TestManagerUnknownServer(t *testing.T) {
	m := bot.NewManager(bot.DefaultSettings())

	assert.False(t, m.Send("ghost", "#x", "hello"), "Should refuse to send through an unknown server")
	assert.False(t, m.Notice("ghost", "#x", "hello"), "Should refuse to notice through an unknown server")
	assert.False(t, m.JoinChannel("ghost", "#x", ""), "Should refuse to join on an unknown server")
	assert.False(t, m.PartChannel("ghost", "#x", ""), "Should refuse to part on an unknown server")

	_, ok := m.GetStatus("ghost")
	assert.False(t, ok, "Should not report status for an unknown server")
}

func TestManagerAddServer(t *testing.T) {
	server := newIRCServer(t)
	host, port := server.HostPort()

	m := bot.NewManager(bot.DefaultSettings())
	t.Cleanup(func() { m.Stop("") })

	assert.False(t, m.AddServer("bad", host, 0, []string{"#x"}, nil, false),
		"Should reject a server with an invalid port")
	assert.False(t, m.AddServer("bad", host, port, nil, nil, false),
		"Should reject a server with no channels")

	assert.True(t, m.AddServer("live", host, port, []string{"ops"}, nil, false),
		"Should add and connect a valid server")
	assert.Contains(t, m.Names(), "live", "Should list the added server")

	sess := server.Accept(5 * time.Second)
	sess.Login()
	_, err := sess.Expect("JOIN #ops", 5*time.Second)
	assert.NoError(t, err, "Should normalize the channel name and join it")

	assert.False(t, m.AddServer("live", host, port, []string{"#x"}, nil, false),
		"Should reject a duplicate server name")
}

func TestManagerQuitMessage(t *testing.T) {
	settings := bot.DefaultSettings()
	m := bot.NewManager(settings)

	assert.Equal(t, "Shutting down", m.QuitMessage(), "Should default to the settings quit message")

	m.SetQuitMessage("brb")
	assert.Equal(t, "brb", m.QuitMessage(), "Should adopt the new quit message")

	m.SetQuitMessage("")
	assert.Equal(t, "brb", m.QuitMessage(), "Should ignore an empty quit message")
}
