package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	StatusFinalSuccess = "Sucesso"
	StatusFinalError   = "Erro"
)

// FileResult is the immutable outcome of one processed file.
type FileResult struct {
	Filename     string         `json:"filename"`
	FileID       ID             `json:"file_id,omitempty"`
	StatusFinal  string         `json:"status_final"`
	Data         map[string]any `json:"data,omitempty"`
	WebSummary   string         `json:"web_summary,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Steps        map[string]any `json:"steps,omitempty"`
}

func (r FileResult) IsError() bool {
	return strings.Contains(strings.ToLower(r.StatusFinal), strings.ToLower(StatusFinalError))
}

func (r FileResult) Succeeded() bool {
	return strings.Contains(r.StatusFinal, StatusFinalSuccess)
}

// HasContent reports whether the extracted text can be requested for this file.
func (r FileResult) HasContent() bool {
	return r.FileID != "" && !r.IsError()
}

// StepWarnings reports whether any AI step status mentions an error, failure or limit.
func (r FileResult) StepWarnings() bool {
	for _, v := range r.Steps {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if ClassifyStepStatus(s) == StepFailed {
			return true
		}
	}
	return false
}

// Field is one labelled extracted value.
type Field struct {
	Key   string
	Label string
	Value string
}

var extractedFieldOrder = []Field{
	{Key: "nome_completo", Label: "Name"},
	{Key: "email", Label: "Email"},
	{Key: "telefone", Label: "Phone"},
	{Key: "resumo", Label: "Summary"},
	{Key: "skills", Label: "Skills"},
	{Key: "experiencia", Label: "Experience"},
}

// ExtractedFields returns the known non-empty fields in display order.
func (r FileResult) ExtractedFields() []Field {
	if len(r.Data) == 0 {
		return nil
	}
	out := make([]Field, 0, len(extractedFieldOrder))
	for _, f := range extractedFieldOrder {
		raw, ok := r.Data[f.Key]
		if !ok {
			continue
		}
		value := strings.TrimSpace(formatValue(raw))
		if value == "" {
			continue
		}
		f.Value = value
		out = append(out, f)
	}
	return out
}

// ExtractedFieldKeys lists the keys ExtractedFields knows about, in order.
func ExtractedFieldKeys() []Field {
	out := make([]Field, len(extractedFieldOrder))
	copy(out, extractedFieldOrder)
	return out
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := strings.TrimSpace(formatValue(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := strings.TrimSpace(formatValue(val[k])); s != "" {
				parts = append(parts, k+": "+s)
			}
		}
		return strings.Join(parts, "; ")
	case float64:
		return fmt.Sprintf("%g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	}
}

type StepOutcome string

const (
	StepOK      StepOutcome = "ok"
	StepFailed  StepOutcome = "failed"
	StepSkipped StepOutcome = "skipped"
	StepWarning StepOutcome = "warning"
)

// ClassifyStepStatus maps the free-text step status the server emits to an outcome.
func ClassifyStepStatus(status string) StepOutcome {
	s := strings.ToLower(status)
	switch {
	case containsAny(s, "erro", "falha", "limite", "error", "fail", "limit"):
		return StepFailed
	case containsAny(s, "não solicitado", "nao solicitado", "ignorado", "pulado", "not requested", "skipped"):
		return StepSkipped
	case containsAny(s, "aviso", "vazio", "sem texto", "warning", "empty"):
		return StepWarning
	default:
		return StepOK
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
