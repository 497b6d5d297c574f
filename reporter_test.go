package jsonsink_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/rushairer/jsonsink"
)

func TestMultiReporter_JoinsErrors(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	calls := 0
	r := jsonsink.MultiReporter{
		jsonsink.ReporterFunc(func(context.Context, jsonsink.TableName, []jsonsink.Record, jsonsink.Outcomes) error {
			calls++
			return errA
		}),
		nil,
		jsonsink.ReporterFunc(func(context.Context, jsonsink.TableName, []jsonsink.Record, jsonsink.Outcomes) error {
			calls++
			return nil
		}),
		jsonsink.ReporterFunc(func(context.Context, jsonsink.TableName, []jsonsink.Record, jsonsink.Outcomes) error {
			calls++
			return errB
		}),
	}

	err := r.Report(context.Background(), jsonsink.MustParseTableName("sales.orders"), nil, nil)
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected both errors, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("every reporter must be called, got %d", calls)
	}
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	r := jsonsink.LogReporter{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	recs := []jsonsink.Record{{ID: "1", Payload: `{}`}, {ID: "2", Payload: "x"}}
	outcomes := jsonsink.Outcomes{
		"1": {Kind: jsonsink.Accepted},
		"2": {Kind: jsonsink.Rejected, Reason: jsonsink.MalformedPayload, Err: jsonsink.ErrMalformedPayload},
	}
	if err := r.Report(context.Background(), jsonsink.MustParseTableName("sales.orders"), recs, outcomes); err != nil {
		t.Fatalf("Report: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"write cycle finished", "accepted=1", "rejected=1", "record not accepted", "record_id=2", "reason=malformed_payload"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "record_id=1") {
		t.Errorf("accepted records must not be logged individually")
	}
}
