// Package stats tallies who says which words where. It listens to
// channel traffic as a message handler, accumulates counts in memory,
// and flushes them to a database on a cadence as a manager task.
package stats

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/presbrey/ircbot/bot"
)

// WordCount is one persisted tally: how often a nick used a word in a
// channel on a server.
type WordCount struct {
	ID        uint   `gorm:"primaryKey"`
	Server    string `gorm:"size:64;uniqueIndex:idx_word_identity"`
	Channel   string `gorm:"size:64;uniqueIndex:idx_word_identity"`
	Nick      string `gorm:"size:32;uniqueIndex:idx_word_identity"`
	Word      string `gorm:"size:64;uniqueIndex:idx_word_identity"`
	Count     int64
	FirstSeen time.Time
	LastSeen  time.Time
}

// WordTotal is one aggregated row from the top-words query.
type WordTotal struct {
	Word  string `json:"word"`
	Total int64  `json:"total"`
}

// TalkerTotal is one aggregated row from the top-talkers query.
type TalkerTotal struct {
	Nick  string `json:"nick"`
	Total int64  `json:"total"`
}

// Options tune a Tracker. Zero values get defaults.
type Options struct {
	FlushInterval time.Duration // default one minute
	IgnorePrefix  string        // command lines to skip, default "!"
	TrackedWords  []string      // optional whitelist; empty tracks everything
	Logger        *log.Logger
}

type counterKey struct {
	Server  string
	Channel string
	Nick    string
	Word    string
}

type pendingCount struct {
	count     int64
	firstSeen time.Time
	lastSeen  time.Time
}

// Tracker counts words in memory and flushes them to the database on a
// cadence. Register HandleMessage as a message handler and Run as a
// manager task.
type Tracker struct {
	db      *gorm.DB
	opts    Options
	tracked map[string]bool
	logger  *log.Logger

	mu      sync.Mutex
	pending map[counterKey]*pendingCount
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// New builds a Tracker on db, migrating the word count table.
func New(db *gorm.DB, opts Options) (*Tracker, error) {
	if err := db.AutoMigrate(&WordCount{}); err != nil {
		return nil, fmt.Errorf("migrating word counts: %w", err)
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Minute
	}
	if opts.IgnorePrefix == "" {
		opts.IgnorePrefix = "!"
	}
	base := opts.Logger
	if base == nil {
		base = log.Default()
	}

	t := &Tracker{
		db:      db,
		opts:    opts,
		logger:  log.New(base.Writer(), "[stats] ", base.Flags()),
		pending: make(map[counterKey]*pendingCount),
	}
	if len(opts.TrackedWords) > 0 {
		t.tracked = make(map[string]bool, len(opts.TrackedWords))
		for _, w := range opts.TrackedWords {
			t.tracked[strings.ToLower(w)] = true
		}
	}
	return t, nil
}

// HandleMessage tallies the words of one channel message. Bot command
// lines and direct messages are skipped. The signature matches
// bot.MessageHandler.
func (t *Tracker) HandleMessage(c *bot.Conn, sender, identHost, target, text string) {
	if !strings.HasPrefix(target, "#") && !strings.HasPrefix(target, "&") {
		return
	}
	if strings.HasPrefix(text, t.opts.IgnorePrefix) {
		return
	}
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 {
		return
	}

	now := time.Now()
	server := c.Name()
	t.mu.Lock()
	for _, word := range words {
		if t.tracked != nil && !t.tracked[word] {
			continue
		}
		key := counterKey{Server: server, Channel: target, Nick: sender, Word: word}
		pc := t.pending[key]
		if pc == nil {
			pc = &pendingCount{firstSeen: now}
			t.pending[key] = pc
		}
		pc.count++
		pc.lastSeen = now
	}
	t.mu.Unlock()
}

// Run flushes on the configured cadence until stop closes, then once
// more on the way out. The signature matches bot.TaskFunc.
func (t *Tracker) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(t.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			if err := t.Flush(); err != nil {
				t.logger.Printf("Final flush failed: %v", err)
			}
			return
		case <-ticker.C:
			if err := t.Flush(); err != nil {
				t.logger.Printf("Flush failed: %v", err)
			}
		}
	}
}

// Flush writes every pending tally to the database. Counts that fail to
// persist are merged back for the next attempt.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[counterKey]*pendingCount)
	t.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	var firstErr error
	flushed := 0
	for key, pc := range pending {
		if err := t.upsert(key, pc); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			t.restore(key, pc)
			continue
		}
		flushed++
	}
	if firstErr != nil {
		return fmt.Errorf("flushing word counts: %w", firstErr)
	}
	t.logger.Printf("Flushed %d word counters", flushed)
	return nil
}

func (t *Tracker) upsert(key counterKey, pc *pendingCount) error {
	var row WordCount
	err := t.db.Where("server = ? AND channel = ? AND nick = ? AND word = ?",
		key.Server, key.Channel, key.Nick, key.Word).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = WordCount{
			Server:    key.Server,
			Channel:   key.Channel,
			Nick:      key.Nick,
			Word:      key.Word,
			Count:     pc.count,
			FirstSeen: pc.firstSeen,
			LastSeen:  pc.lastSeen,
		}
		return t.db.Create(&row).Error
	case err != nil:
		return err
	}

	row.Count += pc.count
	row.LastSeen = pc.lastSeen
	return t.db.Save(&row).Error
}

// restore merges an unflushed tally back into pending.
func (t *Tracker) restore(key counterKey, pc *pendingCount) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.pending[key]
	if cur == nil {
		t.pending[key] = pc
		return
	}
	cur.count += pc.count
	if pc.firstSeen.Before(cur.firstSeen) {
		cur.firstSeen = pc.firstSeen
	}
	if pc.lastSeen.After(cur.lastSeen) {
		cur.lastSeen = pc.lastSeen
	}
}

// TopWords returns the n most used words on a server, optionally limited
// to one channel. Pending tallies are flushed first.
func (t *Tracker) TopWords(server, channel string, n int) ([]WordTotal, error) {
	if err := t.Flush(); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 10
	}

	q := t.db.Model(&WordCount{}).
		Select("word, sum(count) as total").
		Where("server = ?", server)
	if channel != "" {
		q = q.Where("channel = ?", channel)
	}

	var totals []WordTotal
	err := q.Group("word").Order("total DESC").Limit(n).Scan(&totals).Error
	return totals, err
}

// TopTalkers returns the n nicks with the most counted words on a
// server, optionally limited to one channel.
func (t *Tracker) TopTalkers(server, channel string, n int) ([]TalkerTotal, error) {
	if err := t.Flush(); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 10
	}

	q := t.db.Model(&WordCount{}).
		Select("nick, sum(count) as total").
		Where("server = ?", server)
	if channel != "" {
		q = q.Where("channel = ?", channel)
	}

	var totals []TalkerTotal
	err := q.Group("nick").Order("total DESC").Limit(n).Scan(&totals).Error
	return totals, err
}
