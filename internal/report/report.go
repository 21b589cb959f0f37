// Package report renders completed traces as downloadable artifacts.
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rongwang/cryptotrace-server/internal/models"
)

// Format is an export format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatText Format = "txt"
)

// ParseFormat maps a query value to a Format. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatJSON, nil
	case FormatCSV, FormatJSON, FormatText:
		return f, nil
	}
	return "", fmt.Errorf("unsupported report format %q", s)
}

// ContentType returns the MIME type of rendered reports
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatText:
		return "text/plain; charset=utf-8"
	default:
		return "application/json; charset=utf-8"
	}
}

// Filename suggests a download name for the trace report
func (f Format) Filename(trace *models.Trace) string {
	return fmt.Sprintf("trace-%s.%s", sanitize(trace.CaseNumber), f)
}

// Render formats a trace and its payments. It never touches storage.
func Render(f Format, trace *models.Trace, payments []models.PaymentRecord) ([]byte, error) {
	switch f {
	case FormatCSV:
		return renderCSV(trace, payments)
	case FormatJSON:
		return renderJSON(trace, payments)
	case FormatText:
		return renderText(trace, payments), nil
	}
	return nil, fmt.Errorf("unsupported report format %q", f)
}

func fields(trace *models.Trace) [][2]string {
	rows := [][2]string{
		{"caseNumber", trace.CaseNumber},
		{"traceId", trace.ID},
		{"status", string(trace.Status)},
		{"cryptoType", trace.CryptoType},
		{"walletAddress", trace.WalletAddress},
		{"victimName", trace.VictimName},
		{"incidentDate", trace.IncidentDate.UTC().Format("2006-01-02")},
		{"submittedBy", string(trace.SubmittedBy)},
		{"isPremium", strconv.FormatBool(trace.IsPremium)},
		{"description", trace.Description},
		{"createdAt", formatTime(&trace.CreatedAt)},
		{"estimatedCompletion", formatTime(trace.EstimatedCompletion)},
		{"completedAt", formatTime(trace.CompletedAt)},
	}
	if trace.ReportURL != nil {
		rows = append(rows, [2]string{"reportUrl", *trace.ReportURL})
	}
	return rows
}

// flattenResults turns the results object into sorted dotted keys
func flattenResults(trace *models.Trace) ([][2]string, error) {
	if trace.Results == nil || len(*trace.Results) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(*trace.Results, &v); err != nil {
		return nil, fmt.Errorf("decoding results: %w", err)
	}
	var out [][2]string
	flatten("results", v, &out)
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out, nil
}

func flatten(prefix string, v interface{}, out *[][2]string) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, child := range val {
			flatten(prefix+"."+k, child, out)
		}
	case []interface{}:
		for i, child := range val {
			flatten(fmt.Sprintf("%s[%d]", prefix, i), child, out)
		}
	case nil:
		*out = append(*out, [2]string{prefix, ""})
	case string:
		*out = append(*out, [2]string{prefix, val})
	default:
		data, _ := json.Marshal(val)
		*out = append(*out, [2]string{prefix, string(data)})
	}
}

func renderCSV(trace *models.Trace, payments []models.PaymentRecord) ([]byte, error) {
	results, err := flattenResults(trace)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"field", "value"})
	for _, row := range fields(trace) {
		w.Write(row[:])
	}
	for _, row := range results {
		w.Write(row[:])
	}
	for i, p := range payments {
		w.Write([]string{fmt.Sprintf("payments[%d]", i),
			fmt.Sprintf("%s %s %s %s", p.PaymentIntentID, formatCents(p.AmountCents), strings.ToUpper(p.Currency), p.Status)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type jsonReport struct {
	Trace       *models.Trace          `json:"trace"`
	Payments    []models.PaymentRecord `json:"payments"`
	GeneratedBy string                 `json:"generatedBy"`
}

func renderJSON(trace *models.Trace, payments []models.PaymentRecord) ([]byte, error) {
	if payments == nil {
		payments = []models.PaymentRecord{}
	}
	return json.MarshalIndent(jsonReport{Trace: trace, Payments: payments, GeneratedBy: "cryptotrace"}, "", "  ")
}

func renderText(trace *models.Trace, payments []models.PaymentRecord) []byte {
	var b strings.Builder
	title := "CryptoTrace report " + trace.CaseNumber
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", len(title)) + "\n\n")
	for _, row := range fields(trace) {
		if row[1] == "" {
			continue
		}
		fmt.Fprintf(&b, "%-20s %s\n", row[0]+":", row[1])
	}

	if results, err := flattenResults(trace); err == nil && len(results) > 0 {
		b.WriteString("\nResults\n-------\n")
		for _, row := range results {
			fmt.Fprintf(&b, "%s = %s\n", strings.TrimPrefix(row[0], "results."), row[1])
		}
	}

	if len(payments) > 0 {
		b.WriteString("\nPayments\n--------\n")
		for _, p := range payments {
			fmt.Fprintf(&b, "%s  %s %s  %s\n", p.PaymentIntentID, formatCents(p.AmountCents), strings.ToUpper(p.Currency), p.Status)
		}
	}
	return []byte(b.String())
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
