package sinks

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/progress"
)

// LogSink writes each event as one "STAGE key=value ..." line so run logs stay
// grep-friendly, and mirrors the same values as structured fields.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		pairs := eventPairs(evt)
		fields := make([]zap.Field, 0, len(pairs))
		for _, kv := range pairs {
			fields = append(fields, zap.String(kv[0], kv[1]))
		}
		msg := FormatLine(evt.Stage, pairs)
		switch evt.Stage {
		case progress.StageDocFailed, progress.StageCollisionError, progress.StageBulkDisabled:
			s.logger.Warn(msg, fields...)
		default:
			s.logger.Info(msg, fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

// FormatLine renders "STAGE k1=v1 k2=v2". Values containing spaces or quotes are quoted.
func FormatLine(stage progress.Stage, pairs [][2]string) string {
	var b strings.Builder
	b.WriteString(string(stage))
	for _, kv := range pairs {
		b.WriteByte(' ')
		b.WriteString(kv[0])
		b.WriteByte('=')
		b.WriteString(logValue(kv[1]))
	}
	return b.String()
}

func eventPairs(evt progress.Event) [][2]string {
	var pairs [][2]string
	add := func(k, v string) {
		if v != "" {
			pairs = append(pairs, [2]string{k, v})
		}
	}
	add("dataset", evt.Dataset)
	add("doc_id", evt.DocID)
	if evt.Page > 0 {
		add("page", strconv.Itoa(evt.Page))
	}
	if evt.Count != 0 {
		add("count", strconv.FormatInt(evt.Count, 10))
	}
	if evt.Bytes > 0 {
		add("bytes", strconv.FormatInt(evt.Bytes, 10))
	}
	add("status", evt.Status)
	if evt.Dur > 0 {
		add("elapsed_seconds", strconv.FormatFloat(evt.Dur.Seconds(), 'f', 1, 64))
	}
	keys := make([]string, 0, len(evt.Fields))
	for k := range evt.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, evt.Fields[k])
	}
	add("note", evt.Note)
	add("run_id", evt.RunID)
	return pairs
}

func logValue(v string) string {
	if v == "" {
		return `""`
	}
	if strings.ContainsAny(v, " \t\n\"=") {
		return strconv.Quote(v)
	}
	return v
}
