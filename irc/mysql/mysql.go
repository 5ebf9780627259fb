// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

// Package mysql implements the persistent StoredMessage repository and the
// history.Sequence backend for it, against a relational store via
// github.com/go-sql-driver/mysql (spec.md §6, "a relational store for
// accounts/messages/links").
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/oragono/ironhold/irc/history"
	"github.com/oragono/ironhold/irc/logger"
	"github.com/oragono/ironhold/irc/store"
)

// Config is the YAML-deserializable MySQL config block.
type Config struct {
	Enabled            bool
	Host               string
	Port               int
	SocketPath         string `yaml:"socket-path"`
	User               string
	Password           string
	HistoryDatabase    string `yaml:"history-database"`
	Timeout            time.Duration
	MaxConns           int `yaml:"max-conns"`
}

func (c Config) dsn() string {
	addr := fmt.Sprintf("tcp(%s:%d)", c.Host, c.Port)
	if c.SocketPath != "" {
		addr = fmt.Sprintf("unix(%s)", c.SocketPath)
	}
	return fmt.Sprintf("%s:%s@%s/%s?parseTime=true&timeout=%s",
		c.User, c.Password, addr, c.HistoryDatabase, c.Timeout)
}

// MySQL is the persistence port for StoredMessage, plus a CHATHISTORY
// sequence cursor over the same table.
type MySQL struct {
	mutex  sync.RWMutex
	db     *sql.DB
	config Config
	logger *logger.Manager
}

func (m *MySQL) Initialize(log *logger.Manager, config Config) {
	m.logger = log
	m.config = config
}

func (m *MySQL) SetConfig(config Config) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.config = config
}

func (m *MySQL) Open() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.config.Enabled {
		return nil
	}
	db, err := sql.Open("mysql", m.config.dsn())
	if err != nil {
		return err
	}
	if m.config.MaxConns > 0 {
		db.SetMaxOpenConns(m.config.MaxConns)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return err
	}
	m.db = db
	return nil
}

func (m *MySQL) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.db != nil {
		m.db.Close()
		m.db = nil
	}
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS stored_message (
		msgid VARCHAR(64) PRIMARY KEY,
		target VARCHAR(255) NOT NULL,
		sender_uid VARCHAR(16) NOT NULL,
		sender_account VARCHAR(255) NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		tags TEXT NOT NULL,
		ts DATETIME(6) NOT NULL,
		INDEX idx_target_ts (target, ts)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`)
	return err
}

var _ store.MessageRepository = (*MySQL)(nil)

func (m *MySQL) Append(ctx context.Context, msg store.StoredMessage) error {
	if m.db == nil {
		return nil
	}
	tagsJSON, err := json.Marshal(msg.Tags)
	if err != nil {
		return err
	}
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO stored_message (msgid, target, sender_uid, sender_account, text, tags, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.MsgID, msg.Target, msg.SenderUID, msg.SenderAccount, msg.Text, string(tagsJSON), msg.Time.UTC())
	return err
}

func (m *MySQL) DeleteMsgid(ctx context.Context, msgid, accountName string) error {
	if m.db == nil {
		return nil
	}
	q := `DELETE FROM stored_message WHERE msgid = ?`
	args := []interface{}{msgid}
	if accountName != "*" {
		q += ` AND sender_account = ?`
		args = append(args, accountName)
	}
	res, err := m.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (m *MySQL) Forget(ctx context.Context, accountName string) error {
	if m.db == nil {
		return nil
	}
	_, err := m.db.ExecContext(ctx,
		`UPDATE stored_message SET sender_account = '' WHERE sender_account = ?`, accountName)
	return err
}

// Prune deletes messages older than retentionDays (spec.md §6
// Database.MessageRetentionDays). Nothing in the server calls it.
func (m *MySQL) Prune(ctx context.Context, retentionDays int) error {
	if m.db == nil || retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	_, err := m.db.ExecContext(ctx, `DELETE FROM stored_message WHERE ts < ?`, cutoff)
	return err
}

// MakeSequence returns a history.Sequence over persistent messages for
// target (a channel name or a "nick,nick" DM conversation key), optionally
// scoped to one correspondent within that target, not before cutoff.
func (m *MySQL) MakeSequence(target, correspondent string, cutoff time.Time) history.Sequence {
	return &sequence{m: m, target: target, correspondent: correspondent, cutoff: cutoff}
}

type sequence struct {
	m             *MySQL
	target        string
	correspondent string
	cutoff        time.Time
}

func (s *sequence) Between(start, end history.Selector, limit int) ([]history.Item, error) {
	if s.m.db == nil {
		return nil, nil
	}

	q := `SELECT msgid, sender_uid, sender_account, text, tags, ts FROM stored_message WHERE target = ?`
	args := []interface{}{s.target}

	if !s.cutoff.IsZero() {
		q += ` AND ts >= ?`
		args = append(args, s.cutoff.UTC())
	}

	if startTime, ok := s.m.resolveSelector(s.target, start); ok {
		q += ` AND ts > ?`
		args = append(args, startTime.UTC())
	}
	if endTime, ok := s.m.resolveSelector(s.target, end); ok {
		q += ` AND ts <= ?`
		args = append(args, endTime.UTC())
	}

	q += ` ORDER BY ts ASC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.m.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []history.Item
	for rows.Next() {
		var it history.Item
		var tagsJSON, text string
		var ts time.Time
		if err := rows.Scan(&it.Message.Msgid, &it.Nick, &it.AccountName, &text, &tagsJSON, &ts); err != nil {
			return nil, err
		}
		it.Message.Command = "PRIVMSG"
		it.Message.Params = []string{s.target, text}
		json.Unmarshal([]byte(tagsJSON), &it.Tags)
		it.Time = ts
		out = append(out, it)
	}
	return out, rows.Err()
}

func (m *MySQL) resolveSelector(target string, sel history.Selector) (time.Time, bool) {
	if sel.IsZero() {
		return time.Time{}, false
	}
	if sel.Msgid == "" {
		return sel.Time, true
	}
	var ts time.Time
	err := m.db.QueryRow(`SELECT ts FROM stored_message WHERE msgid = ? AND target = ?`, sel.Msgid, target).Scan(&ts)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
