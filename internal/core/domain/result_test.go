package domain

import (
	"errors"
	"testing"
)

func TestFileResultStatus(t *testing.T) {
	ok := FileResult{FileID: "f1", StatusFinal: StatusFinalSuccess}
	if !ok.Succeeded() || ok.IsError() || !ok.HasContent() {
		t.Fatalf("unexpected flags for success result")
	}

	failed := FileResult{FileID: "f2", StatusFinal: "Erro na leitura"}
	if !failed.IsError() || failed.HasContent() {
		t.Fatalf("unexpected flags for error result")
	}

	noID := FileResult{StatusFinal: StatusFinalSuccess}
	if noID.HasContent() {
		t.Fatalf("results without file id have no viewable content")
	}
}

func TestExtractedFieldsOrderAndFormatting(t *testing.T) {
	r := FileResult{Data: map[string]any{
		"skills":        []any{"Go", " ", "SQL"},
		"nome_completo": "Ana Souza",
		"email":         "  ",
		"experiencia":   map[string]any{"empresa": "Acme", "anos": float64(5)},
		"unknown":       "ignored",
	}}

	fields := r.ExtractedFields()
	if len(fields) != 3 {
		t.Fatalf("fields = %+v, want 3 entries", fields)
	}
	if fields[0].Label != "Name" || fields[0].Value != "Ana Souza" {
		t.Fatalf("unexpected first field %+v", fields[0])
	}
	if fields[1].Label != "Skills" || fields[1].Value != "Go, SQL" {
		t.Fatalf("unexpected skills field %+v", fields[1])
	}
	if fields[2].Value != "anos: 5; empresa: Acme" {
		t.Fatalf("unexpected experience field %+v", fields[2])
	}
}

func TestExtractedFieldKeysIsACopy(t *testing.T) {
	keys := ExtractedFieldKeys()
	keys[0].Label = "changed"
	if ExtractedFieldKeys()[0].Label == "changed" {
		t.Fatalf("ExtractedFieldKeys must not expose internal state")
	}
}

func TestClassifyStepStatus(t *testing.T) {
	tests := map[string]StepOutcome{
		"Concluído":          StepOK,
		"Erro ao chamar IA":  StepFailed,
		"limite atingido":    StepFailed,
		"Não solicitado":     StepSkipped,
		"skipped by user":    StepSkipped,
		"Aviso: texto vazio": StepWarning,
		"sem texto extraído": StepWarning,
	}
	for status, want := range tests {
		if got := ClassifyStepStatus(status); got != want {
			t.Fatalf("ClassifyStepStatus(%q) = %s, want %s", status, got, want)
		}
	}
}

func TestStepWarnings(t *testing.T) {
	r := FileResult{Steps: map[string]any{"extract": "ok", "web": "falha na busca", "count": 3}}
	if !r.StepWarnings() {
		t.Fatalf("expected step warnings")
	}
	if (FileResult{Steps: map[string]any{"extract": "ok"}}).StepWarnings() {
		t.Fatalf("no warnings expected")
	}
}

func TestFriendlyError(t *testing.T) {
	tests := map[string]string{
		"":                                  "An unexpected error occurred.",
		"429 Too Many Requests":             "AI usage limit reached.",
		"API key not valid. Please pass...": "Invalid AI provider API key.",
		"Arquivo ZIP corrompido":            "The ZIP archive looks corrupted.",
		"something odd":                     "something odd",
	}
	for in, want := range tests {
		if got := FriendlyError(in); got != want {
			t.Fatalf("FriendlyError(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWrapErrorKeepsKindAndCause(t *testing.T) {
	cause := errors.New("boom")
	err := WrapError(ErrUpload, "upload", cause)
	if !IsKind(err, ErrUpload) || !errors.Is(err, cause) {
		t.Fatalf("wrapped error lost kind or cause: %v", err)
	}
	if WrapError(ErrUpload, "upload", nil) != nil {
		t.Fatalf("wrapping nil must return nil")
	}
}

func TestKindName(t *testing.T) {
	quotaOverTemporary := WrapError(ErrQuota, "chat", WrapError(ErrTemporary, "chat", errors.New("429")))
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("plain"), "unknown"},
		{WrapError(ErrNotFound, "content", errors.New("404")), "not_found"},
		{quotaOverTemporary, "quota"},
		{WrapError(ErrUpload, "upload", errors.New("500")), "upload"},
		{WrapError(ErrUpload, "upload", WrapError(ErrTemporary, "upload", errors.New("503"))), "temporary"},
	}
	for _, tt := range tests {
		if got := KindName(tt.err); got != tt.want {
			t.Fatalf("KindName(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestIsAllowedUploadName(t *testing.T) {
	tests := map[string]bool{
		"cv.pdf":      true,
		"CV.DOCX":     true,
		"batch.zip":   true,
		"notes.txt":   false,
		"archive.rar": false,
		"pdf":         false,
	}
	for name, want := range tests {
		if got := IsAllowedUploadName(name); got != want {
			t.Fatalf("IsAllowedUploadName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestPhaseInFlight(t *testing.T) {
	for phase, want := range map[Phase]bool{
		PhaseIdle:      false,
		PhaseUploading: true,
		PhaseStreaming: true,
		PhaseCompleted: false,
		PhaseFailed:    false,
	} {
		if phase.InFlight() != want {
			t.Fatalf("%s.InFlight() = %v, want %v", phase, !want, want)
		}
	}
}
