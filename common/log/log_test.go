package log

import (
	"bufio"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name    string
		with    []interface{}
		level   int
		allowed int
		out     []string
	}{
		{"info at info", nil, InfoLevel, InfoLevel, []string{"hello"}},
		{"debug at info", nil, DebugLevel, InfoLevel, nil},
		{"error at debug", nil, ErrorLevel, DebugLevel, []string{"hello"}},
		{"warn at error", nil, WarnLevel, ErrorLevel, nil},
		{"with fields", []interface{}{"round", 5}, WarnLevel, InfoLevel, []string{"round", "5", "hello"}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var b bytes.Buffer
			writer := bufio.NewWriter(&b)
			l := New(zapcore.AddSync(writer), test.allowed, true)
			if test.with != nil {
				l = l.With(test.with...)
			}

			switch test.level {
			case DebugLevel:
				l.Debugw("hello")
			case InfoLevel:
				l.Infow("hello")
			case WarnLevel:
				l.Warnw("hello")
			case ErrorLevel:
				l.Errorw("hello")
			default:
				t.FailNow()
			}
			require.NoError(t, writer.Flush())

			if test.out == nil {
				require.Zero(t, b.Len())
				return
			}
			for _, s := range test.out {
				require.Contains(t, b.String(), s)
			}
		})
	}
}

func TestLoggerContext(t *testing.T) {
	var b bytes.Buffer
	l := New(zapcore.AddSync(&b), InfoLevel, false).Named("contributor")
	ctx := ToContext(context.Background(), l)

	FromContextOrDefault(ctx).Infow("queued", "position", 3)
	require.Contains(t, b.String(), "contributor")
	require.Contains(t, b.String(), "queued")

	require.NotNil(t, FromContextOrDefault(context.Background()))
}
