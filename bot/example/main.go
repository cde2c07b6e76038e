package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/presbrey/ircbot/bot"
)

func main() {
	// Describe one server by hand; normally this comes from bot/config
	server, err := bot.NewServerConfig("libera", "irc.libera.chat", 6667,
		[]string{"#ircbot-demo"}, nil, false, false)
	if err != nil {
		log.Fatalf("Bad server config: %v", err)
	}

	settings := bot.DefaultSettings()
	settings.Nick = "ircbot-demo"

	manager := bot.NewManager(settings)
	manager.LoadConfigurations(server)

	// Watch the fleet through typed callbacks
	manager.RegisterCallbacks(bot.HandlerSet{
		Message: func(c *bot.Conn, sender, identHost, target, text string) {
			log.Printf("%s <%s> %s: %s", c.Name(), sender, target, text)

			// Answer direct greetings to show the send path
			if strings.EqualFold(text, c.Nick()+": ping") {
				c.SendMessage(target, sender+": pong")
			}
		},
		Join: func(c *bot.Conn, sender, identHost, channel string) {
			log.Printf("%s: %s joined %s", c.Name(), sender, channel)
		},
		Disconnect: func(c *bot.Conn) {
			log.Printf("%s: session lost, reconnecting", c.Name())
		},
	})

	if !manager.Start() {
		log.Fatal("Nothing to manage")
	}
	manager.Connect()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	manager.Stop("Demo over")
}
