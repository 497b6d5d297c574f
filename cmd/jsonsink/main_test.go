package main

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/rushairer/jsonsink"
	"github.com/rushairer/jsonsink/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseCLI(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()

	cli := &CLI{}
	parser, err := kong.New(cli,
		kong.Name("jsonsink"),
		kong.Description("Batched JSON document sink for PostgreSQL, MySQL and SQLite."),
		kong.UsageOnError(),
		kong.Exit(func(code int) {
			t.Fatalf("unexpected Kong exit %d", code)
		}),
	)
	require.NoError(t, err)

	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	return cli, ctx
}

func TestWriteCommandParsing(t *testing.T) {
	cli, ctx := parseCLI(t, "write", "-t", "sales.orders", "--driver", "sqlite3", "--dsn", "file:test.db",
		"-f", "records.ndjson", "--batch-size", "50", "--metrics-port", "9100", "--dead-letter-redis", "localhost:6379")

	assert.Equal(t, "write", ctx.Command())
	assert.Equal(t, "sales.orders", cli.Write.Table)
	assert.Equal(t, "sqlite3", cli.Write.Driver)
	assert.Equal(t, "file:test.db", cli.Write.DSN)
	assert.Equal(t, "records.ndjson", cli.Write.Input)
	assert.Equal(t, 50, cli.Write.BatchSize)
	assert.Equal(t, 9100, cli.Write.MetricsPort)
	assert.Equal(t, "localhost:6379", cli.Write.DeadLetterRedis)
}

func TestWriteCommandDefaults(t *testing.T) {
	cli, _ := parseCLI(t, "write", "--table", "sales.orders")

	assert.Equal(t, "-", cli.Write.Input)
	assert.Zero(t, cli.Write.MetricsPort)
	assert.Empty(t, cli.Write.DeadLetterRedis)
}

func TestApplyFlags(t *testing.T) {
	cfg := &config.Config{}
	cfg.Connection.DriverName = "postgres"
	cfg.Writer.BatchSize = 100
	cfg.DeadLetter.Stream = config.DefaultDeadLetterStream

	cmd := &WriteCmd{Driver: "mysql", DSN: "root@/sales", BatchSize: 10, DeadLetterStream: "failed"}
	cmd.applyFlags(cfg)

	assert.Equal(t, "mysql", cfg.Connection.DriverName)
	assert.Equal(t, "root@/sales", cfg.Connection.DSN)
	assert.Equal(t, 10, cfg.Writer.BatchSize)
	assert.Equal(t, "failed", cfg.DeadLetter.Stream)
}

func TestResolveDriver(t *testing.T) {
	tests := []struct {
		in         string
		driver     string
		dialect    string
		shouldFail bool
	}{
		{in: "postgres", driver: "postgres", dialect: "postgresql"},
		{in: "PostgreSQL", driver: "postgres", dialect: "postgresql"},
		{in: "mysql", driver: "mysql", dialect: "mysql"},
		{in: "sqlite", driver: "sqlite3", dialect: "sqlite"},
		{in: "sqlite3", driver: "sqlite3", dialect: "sqlite"},
		{in: "oracle", shouldFail: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			driver, dialect, err := resolveDriver(tt.in)
			if tt.shouldFail {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.driver, driver)
			assert.Equal(t, tt.dialect, dialect.Name())
		})
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want jsonsink.Record
	}{
		{
			name: "envelope with object payload",
			line: `{"id":"a-1","payload":{"total":12.5}}`,
			want: jsonsink.Record{ID: "a-1", Payload: `{"total":12.5}`},
		},
		{
			name: "envelope with string payload",
			line: `{"id":"a-2","payload":"{\"total\":1}"}`,
			want: jsonsink.Record{ID: "a-2", Payload: `{"total":1}`},
		},
		{
			name: "envelope with malformed string payload",
			line: `{"id":"a-3","payload":"not json"}`,
			want: jsonsink.Record{ID: "a-3", Payload: "not json"},
		},
		{
			name: "numeric id",
			line: `{"id":42,"payload":[1,2]}`,
			want: jsonsink.Record{ID: "42", Payload: "[1,2]"},
		},
		{
			name: "bare document",
			line: `{"total":3}`,
			want: jsonsink.Record{ID: "line-7", Payload: `{"total":3}`},
		},
		{
			name: "bare array",
			line: `[1,2,3]`,
			want: jsonsink.Record{ID: "line-7", Payload: `[1,2,3]`},
		},
		{
			name: "garbage",
			line: `{oops`,
			want: jsonsink.Record{ID: "line-7", Payload: `{oops`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLine(7, []byte(tt.line)))
		})
	}
}

func TestReadRecords_SkipsBlankLines(t *testing.T) {
	input := "{\"a\":1}\n\n   \n{\"id\":\"x\",\"payload\":true}\n"
	var got []jsonsink.Record
	n, err := readRecords(strings.NewReader(input), func(r jsonsink.Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []jsonsink.Record{
		{ID: "line-1", Payload: `{"a":1}`},
		{ID: "x", Payload: "true"},
	}, got)
}

func TestWriteCmd_SQLiteEndToEnd(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sink.db")
	inputPath := filepath.Join(dir, "records.ndjson")
	require.NoError(t, os.WriteFile(inputPath, []byte(
		`{"id":"1","payload":{"sku":"A-1","qty":2}}`+"\n"+
			`{"id":"2","payload":"not json"}`+"\n"+
			`{"sku":"B-7","qty":1}`+"\n"), 0o644))

	cfg := &config.Config{
		Writer: jsonsink.DefaultConfig(),
		Sink:   jsonsink.DefaultSinkConfig(),
	}
	cfg.Connection.DriverName = "sqlite"
	cfg.Connection.DSN = dbPath

	var out bytes.Buffer
	cmd := &WriteCmd{Table: "main.orders", Input: inputPath, out: &out}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := cmd.run(context.Background(), logger, cfg)
	assert.ErrorIs(t, err, errNotAllAccepted)
	assert.Contains(t, out.String(), "records=3 accepted=2 rejected=1 indeterminate=0")

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "main"."orders"`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestWriteCmd_AllAccepted(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "records.ndjson")
	require.NoError(t, os.WriteFile(inputPath, []byte("{\"n\":1}\n{\"n\":2}\n"), 0o644))

	cfg := &config.Config{Writer: jsonsink.DefaultConfig(), Sink: jsonsink.DefaultSinkConfig()}
	cfg.Connection.DriverName = "sqlite3"
	cfg.Connection.DSN = filepath.Join(dir, "sink.db")

	var out bytes.Buffer
	cmd := &WriteCmd{Table: "main.events", Input: inputPath, out: &out}
	err := cmd.run(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "accepted=2")
}

func TestWriteCmd_InvalidTable(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{Writer: jsonsink.DefaultConfig(), Sink: jsonsink.DefaultSinkConfig()}
	cfg.Connection.DriverName = "sqlite3"
	cfg.Connection.DSN = filepath.Join(dir, "sink.db")

	cmd := &WriteCmd{Table: "orders", Input: "-", out: io.Discard}
	err := cmd.run(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	assert.ErrorIs(t, err, jsonsink.ErrInvalidTableName)
}
