package usecase

import (
	"strings"
	"testing"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/core/ports"
)

type transitionsFake struct {
	calls []string
	quota []bool
}

func (f *transitionsFake) closeChannel() { f.calls = append(f.calls, "close") }
func (f *transitionsFake) batchDone(quota bool) {
	f.calls = append(f.calls, "done")
	f.quota = append(f.quota, quota)
}
func (f *transitionsFake) batchFailed()   { f.calls = append(f.calls, "failed") }
func (f *transitionsFake) quotaDetected() { f.calls = append(f.calls, "quota") }

func newTestDispatcher() (*MessageDispatcher, *recordingSinks, *transitionsFake, *metricsFake) {
	sinks := &recordingSinks{}
	session := &transitionsFake{}
	metrics := &metricsFake{}
	return newMessageDispatcher(sinks.sinks(), session, metrics, discardLogger()), sinks, session, metrics
}

func TestDispatcherRoutingTable(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantStatus  int
		wantChat    int
		wantResults int
		wantCalls   string
	}{
		{name: "status", raw: `{"type":"status","message":"Queued"}`, wantStatus: 1},
		{name: "warning", raw: `{"type":"warning","message":"Slow provider"}`, wantStatus: 1},
		{name: "error", raw: `{"type":"error","message":"boom"}`, wantStatus: 1},
		{name: "instruction", raw: `{"type":"initial_instruction_result","reply":"Top candidate: Ana"}`, wantChat: 1},
		{name: "file done", raw: `{"type":"file_done","result":{"filename":"a.pdf","status_final":"Sucesso"}}`, wantStatus: 1, wantResults: 1},
		{name: "file error", raw: `{"type":"file_error","filename":"b.pdf","message":"Erro na leitura do arquivo"}`, wantStatus: 1, wantResults: 1},
		{name: "batch done", raw: `{"type":"batch_done"}`, wantStatus: 1, wantCalls: "close,done"},
		{name: "batch failed", raw: `{"type":"batch_failed","message":"crash"}`, wantStatus: 1, wantCalls: "close,failed"},
		{name: "pause", raw: `{"type":"pause","duration":2}`, wantStatus: 1},
		{name: "file start", raw: `{"type":"file_start","filename":"a.pdf","index":1,"total":2}`, wantStatus: 1},
		{name: "step start", raw: `{"type":"step_start","filename":"a.pdf","step":"Extraction"}`, wantStatus: 1},
		{name: "step done", raw: `{"type":"step_done","filename":"a.pdf","step":"Extraction","status":"ok"}`, wantStatus: 1},
		{name: "unknown", raw: `{"type":"heartbeat"}`, wantStatus: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, sinks, session, _ := newTestDispatcher()
			d.Dispatch([]byte(tc.raw))

			if len(sinks.statuses) != tc.wantStatus {
				t.Fatalf("status lines: want %d, got %d (%+v)", tc.wantStatus, len(sinks.statuses), sinks.statuses)
			}
			if len(sinks.chats) != tc.wantChat {
				t.Fatalf("chat lines: want %d, got %d", tc.wantChat, len(sinks.chats))
			}
			if len(sinks.results) != tc.wantResults {
				t.Fatalf("results: want %d, got %d", tc.wantResults, len(sinks.results))
			}
			if got := strings.Join(session.calls, ","); got != tc.wantCalls {
				t.Fatalf("session calls: want %q, got %q", tc.wantCalls, got)
			}
		})
	}
}

func TestDispatcherBatchDoneQuotaFlag(t *testing.T) {
	d, _, session, _ := newTestDispatcher()
	d.Dispatch([]byte(`{"type":"batch_done","quota_error":true}`))
	d.Dispatch([]byte(`{"type":"batch_done","error_kind":"quota"}`))
	d.Dispatch([]byte(`{"type":"batch_done"}`))

	want := []bool{true, true, false}
	for i, q := range want {
		if session.quota[i] != q {
			t.Fatalf("call %d: want quota=%t, got %t", i, q, session.quota[i])
		}
	}
}

func TestDispatcherFileErrorBuildsSyntheticResult(t *testing.T) {
	d, sinks, session, _ := newTestDispatcher()
	d.Dispatch([]byte(`{"type":"file_error","filename":"b.pdf","file_id":7,"message":"Limite de uso da IA atingido"}`))

	res := sinks.results[0]
	if res.Filename != "b.pdf" || res.FileID != "7" || !res.IsError() {
		t.Fatalf("unexpected synthetic result %+v", res)
	}
	if !sinks.statuses[0].Quota || sinks.statuses[0].Level != ports.LevelError {
		t.Fatalf("expected quota error status, got %+v", sinks.statuses[0])
	}
	if len(session.calls) != 0 {
		t.Fatalf("a message heuristic must not make quota sticky, got %v", session.calls)
	}

	d.Dispatch([]byte(`{"type":"batch_done"}`))
	if len(session.quota) != 1 || !session.quota[0] {
		t.Fatalf("batch_done without explicit flag must use the heuristic hit, got %v", session.quota)
	}
}

func TestDispatcherExplicitBatchDoneFlagOverridesHeuristic(t *testing.T) {
	d, sinks, session, _ := newTestDispatcher()
	d.Dispatch([]byte(`{"type":"file_error","filename":"big.pdf","message":"Arquivo com tamanho acima do limite permitido"}`))
	d.Dispatch([]byte(`{"type":"error","message":"Limite de uso da IA atingido"}`))
	d.Dispatch([]byte(`{"type":"batch_done","quota_error":false}`))

	if sinks.statuses[0].Quota {
		t.Fatalf("size limit error must not be shown as quota: %+v", sinks.statuses[0])
	}
	if got := strings.Join(session.calls, ","); got != "close,done" {
		t.Fatalf("session calls = %q, want close,done", got)
	}
	if session.quota[0] {
		t.Fatalf("explicit quota_error:false must enable chat")
	}

	d.Dispatch([]byte(`{"type":"batch_done"}`))
	if session.quota[1] {
		t.Fatalf("heuristic hits must not leak into the next batch_done")
	}
}

func TestDispatcherExplicitErrorKindIsSticky(t *testing.T) {
	d, _, session, _ := newTestDispatcher()
	d.Dispatch([]byte(`{"type":"error","message":"provider refused","error_kind":"quota"}`))
	if got := strings.Join(session.calls, ","); got != "quota" {
		t.Fatalf("explicit quota kind must be recorded immediately, got %q", got)
	}
}

func TestDispatcherParseErrors(t *testing.T) {
	for _, raw := range []string{`not json`, `[1,2]`, `{"type":`, ``} {
		d, sinks, session, metrics := newTestDispatcher()
		d.Dispatch([]byte(raw))

		if len(sinks.statuses) != 1 || sinks.statuses[0].Text != parseErrorText {
			t.Fatalf("%q: expected parse error status, got %+v", raw, sinks.statuses)
		}
		if len(session.calls) != 0 {
			t.Fatalf("%q: parse errors must not touch the session", raw)
		}
		if metrics.parseErrors != 1 {
			t.Fatalf("%q: expected parse error metric", raw)
		}
	}
}

func TestDispatcherInstructionFallbacks(t *testing.T) {
	d, sinks, _, _ := newTestDispatcher()
	d.Dispatch([]byte(`{"type":"initial_instruction_result","message":"From message"}`))
	d.Dispatch([]byte(`{"type":"initial_instruction_result"}`))

	if sinks.chats[0].Role != ports.RoleAssistant || sinks.chats[0].Text != "From message" {
		t.Fatalf("unexpected first chat line %+v", sinks.chats[0])
	}
	if sinks.chats[1].Role != ports.RoleSystem || sinks.chats[1].Level != ports.LevelWarning {
		t.Fatalf("unexpected empty-reply line %+v", sinks.chats[1])
	}
}

func TestFormatStatusLineStepOutcomes(t *testing.T) {
	tests := []struct {
		status string
		level  ports.Level
		text   string
	}{
		{status: "Concluído", level: ports.LevelSuccess, text: "AI: Concluído"},
		{status: "Erro: Limite de uso", level: ports.LevelError, text: "AI: failed"},
		{status: "Não solicitado", level: ports.LevelInfo, text: "AI: not requested"},
		{status: "Aviso: texto vazio", level: ports.LevelWarning, text: "AI: Aviso"},
		{status: "", level: ports.LevelSuccess, text: "AI: OK"},
	}
	for _, tc := range tests {
		line := FormatStatusLine(domain.Event{Type: domain.EventStepDone, Step: "AI", Status: tc.status})
		if line.Level != tc.level || !strings.HasPrefix(line.Text, tc.text) {
			t.Fatalf("%q: got %s %q", tc.status, line.Level, line.Text)
		}
	}
}

func TestFormatStatusLineStepData(t *testing.T) {
	line := FormatStatusLine(domain.Event{
		Type:   domain.EventStepDone,
		Step:   "Extraction",
		Status: "ok",
		Data:   map[string]any{"nome_completo": "Ana", "skills": []any{"Go", "SQL"}},
	})
	if line.Detail != "nome_completo: Ana\nskills: [\"Go\",\"SQL\"]" {
		t.Fatalf("unexpected detail %q", line.Detail)
	}
}
