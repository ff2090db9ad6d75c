package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestDescribeSQL(t *testing.T) {
	cases := map[string][2]string{
		"SELECT * FROM `members` WHERE id = ?":           {"SELECT", "members"},
		`INSERT INTO "outbox_entries" ("id") VALUES (?)`: {"INSERT", "outbox_entries"},
		"UPDATE plans SET name = ?":                      {"UPDATE", "plans"},
		"PRAGMA journal_mode":                            {"UNKNOWN", ""},
	}
	for sql, want := range cases {
		op, table := describeSQL(sql)
		assert.Equal(t, want[0], op, sql)
		assert.Equal(t, want[1], table, sql)
	}
}

func TestGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), DefaultGormLoggerConfig())

	sql := func() (string, int64) { return "SELECT * FROM members", 1 }

	gl.Trace(context.Background(), time.Now(), sql, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 0, logs.Len())

	gl.Trace(context.Background(), time.Now(), sql, errors.New("disk I/O error"))
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())

	gl.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	entries := logs.FilterLevelExact(zapcore.WarnLevel).All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "members", entries[0].ContextMap()["table"])
	}
}
