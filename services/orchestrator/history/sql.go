// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ConversationRow is a row of the conversations table.
type ConversationRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ThreadID  string `gorm:"size:64;not null;index"`
	TicketID  string `gorm:"size:64;index"`
	Sender    string `gorm:"size:16;not null"` // "user", "assistant", "system"
	Message   string `gorm:"type:text"`
	MediaURL  string `gorm:"size:512"`
	CreatedAt time.Time
}

// TableName keeps the table name the review tooling queries.
func (ConversationRow) TableName() string { return "conversations" }

// OpenSQL opens a gorm connection for driver "mysql" or "sqlite".
func OpenSQL(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("history: unsupported sql driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", driver, err)
	}
	return db, nil
}

// SQLRecorder writes turns to the conversations table.
type SQLRecorder struct {
	db *gorm.DB
}

var _ Recorder = (*SQLRecorder)(nil)

// NewSQLRecorder migrates the table and returns the recorder.
func NewSQLRecorder(db *gorm.DB) (*SQLRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("history: db is required")
	}
	if err := db.AutoMigrate(&ConversationRow{}); err != nil {
		return nil, fmt.Errorf("history: migrate conversations: %w", err)
	}
	return &SQLRecorder{db: db}, nil
}

// Append inserts one row.
func (r *SQLRecorder) Append(ctx context.Context, turn Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	row := ConversationRow{
		ThreadID:  turn.ConversationID,
		TicketID:  turn.TicketID,
		Sender:    turn.Sender,
		Message:   turn.Text,
		MediaURL:  turn.MediaURL,
		CreatedAt: turn.Timestamp,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("history: insert turn: %w", err)
	}
	return nil
}

// Conversation returns the rows of a conversation in insertion order.
func (r *SQLRecorder) Conversation(ctx context.Context, conversationID string) ([]ConversationRow, error) {
	var rows []ConversationRow
	err := r.db.WithContext(ctx).
		Where("thread_id = ?", conversationID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("history: load conversation: %w", err)
	}
	return rows, nil
}
