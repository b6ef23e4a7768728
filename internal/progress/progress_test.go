package progress

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		line string
		ok   bool
		id   uint
		kind Kind
		msg  string
	}{
		{line: "42: rendered", ok: true, id: 42, kind: Rendered, msg: "rendered"},
		{line: "  7: up-to-date, skipping\r", ok: true, id: 7, kind: Skipped, msg: "up-to-date, skipping"},
		{line: "3: inserted 4 markers", ok: true, id: 3, kind: Info, msg: "inserted 4 markers"},
		{line: "9: renderer failed (exit 1)", ok: true, id: 9, kind: Failed, msg: "renderer failed (exit 1)"},
		{line: "9:", ok: true, id: 9, kind: Failed, msg: ""},
		{line: "rendered", ok: false},
		{line: "x3: rendered", ok: false},
		{line: "", ok: false},
		{line: "99999999999999999999999: rendered", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ev, ok := Parse(tt.line)
			if ok != tt.ok {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			}
			if !ok {
				return
			}
			if ev.DocumentID != tt.id || ev.Kind != tt.kind || ev.Message != tt.msg {
				t.Errorf("Parse(%q) = %+v", tt.line, ev)
			}
		})
	}
}

func TestFormatRoundTrip(t *testing.T) {
	for _, msg := range []string{MsgRendered, MsgSkipped, Inserted(2), MsgNotFound} {
		ev, ok := Parse(Format(5, msg))
		if !ok || ev.DocumentID != 5 || ev.Message != msg {
			t.Errorf("round trip of %q gave %+v", msg, ev)
		}
	}
	if Classify(MsgNotFound) != Failed {
		t.Error("not found must count as failure")
	}
}

func TestClassify_FailureText(t *testing.T) {
	for _, text := range []string{
		"inserted 3 markers into /tmp/up-to-date/sheet.tex",
		"resolve /srv/up-to-date/blatt.tex: no such file",
		"rendered",
		"",
	} {
		ev, ok := Parse(Format(4, Failure(text)))
		if !ok || ev.Kind != Failed {
			t.Errorf("Failure(%q) parsed as %+v", text, ev)
		}
	}
}
