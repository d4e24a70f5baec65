package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"modelo130/internal/amount"
	"modelo130/internal/export"
	"modelo130/internal/ingest"
	"modelo130/internal/session"
	"modelo130/internal/tax"
	"modelo130/pkg/models"
)

// draftView is the draft plus the totals it currently adds up to.
type draftView struct {
	Records     []models.Record     `json:"records"`
	Diagnostics []ingest.Diagnostic `json:"diagnostics"`
	Totals      tax.Totals          `json:"totals"`
}

func newDraftView(d session.Draft) draftView {
	return draftView{
		Records:     d.Records,
		Diagnostics: d.Diagnostics,
		Totals:      tax.Aggregate(d.Records),
	}
}

// summaryView adds the display wording to a summary.
type summaryView struct {
	tax.Summary
	OutcomeLabel string   `json:"outcome_label"`
	Notes        []string `json:"notes"`
}

func newSummaryView(s tax.Summary) summaryView {
	return summaryView{Summary: s, OutcomeLabel: s.Outcome.Label(), Notes: tax.Notes}
}

func (s *Server) health(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{"ok": true, "sessions": s.deps.Store.Len()})
}

func (s *Server) ingest(c *gin.Context) {
	sess := currentSession(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			respondError(c, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("La subida supera el máximo de %d bytes", s.opts.MaxUploadBytes), nil)
			return
		}
		respondError(c, http.StatusBadRequest, "Formulario de subida no válido", nil)
		return
	}

	intent, err := ingest.ParseIntent(c.PostForm("intent"))
	if err != nil {
		respondError(c, http.StatusUnprocessableEntity, "Canal de subida no válido",
			map[string]string{"intent": "must be one of: income, expense, unified"})
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		respondError(c, http.StatusUnprocessableEntity, "No se ha subido ningún archivo",
			map[string]string{"files": "at least one file is required"})
		return
	}

	sources := make([]ingest.Source, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			_ = c.Error(fmt.Errorf("open upload %s: %w", fh.Filename, err))
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			_ = c.Error(fmt.Errorf("read upload %s: %w", fh.Filename, err))
			return
		}
		sources = append(sources, ingest.Source{
			Filename:  fh.Filename,
			MediaType: fh.Header.Get("Content-Type"),
			Content:   content,
		})
	}

	result := s.deps.Pipeline.Run(c.Request.Context(), sources, intent)
	sess.ApplyBatch(intent, result)

	if result.Records == nil {
		result.Records = []models.Record{}
	}
	if result.Diagnostics == nil {
		result.Diagnostics = []ingest.Diagnostic{}
	}
	respond(c, http.StatusOK, gin.H{
		"intent": intent,
		"batch":  result,
		"draft":  newDraftView(sess.Draft()),
	})
}

func (s *Server) getRecords(c *gin.Context) {
	respond(c, http.StatusOK, newDraftView(currentSession(c).Draft()))
}

type recordsRequest struct {
	Records []recordInput `json:"records" binding:"required"`
}

// recordInput is one row of the review grid. Amounts arrive as the text the
// user typed, so they go through the same parser as imported cells.
type recordInput struct {
	Date           *time.Time            `json:"date"`
	CounterpartID  string                `json:"counterpart_id"`
	BaseAmount     typedAmount           `json:"base_amount"`
	VATAmount      typedAmount           `json:"vat_amount"`
	WithheldAmount typedAmount           `json:"withheld_amount"`
	SourceLabel    string                `json:"source_label"`
	Classification models.Classification `json:"classification"`
	Page           int                   `json:"page"`
}

// typedAmount accepts a JSON string, number or null.
type typedAmount string

func (a *typedAmount) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = typedAmount(s)
		return nil
	}
	*a = typedAmount(data)
	return nil
}

func (a typedAmount) negative() bool {
	return strings.HasPrefix(strings.TrimSpace(string(a)), "-")
}

func (in recordInput) toRecord(row int) (models.Record, error) {
	for _, a := range []typedAmount{in.BaseAmount, in.VATAmount, in.WithheldAmount} {
		if a.negative() {
			return models.Record{}, fmt.Errorf("%w: row %d: amounts must not be negative", session.ErrInvalidRecord, row)
		}
	}
	return models.Record{
		Date:           in.Date,
		CounterpartID:  strings.TrimSpace(in.CounterpartID),
		BaseAmount:     amount.OrZero(string(in.BaseAmount)),
		VATAmount:      amount.OrZero(string(in.VATAmount)),
		WithheldAmount: amount.OrZero(string(in.WithheldAmount)),
		SourceLabel:    in.SourceLabel,
		Classification: in.Classification,
		Page:           in.Page,
	}, nil
}

func toRecords(rows []recordInput) ([]models.Record, error) {
	records := make([]models.Record, 0, len(rows))
	for i, in := range rows {
		r, err := in.toRecord(i + 1)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *Server) putRecords(c *gin.Context) {
	sess := currentSession(c)

	var req recordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "JSON inválido", map[string]string{"request": err.Error()})
		return
	}
	records, err := toRecords(req.Records)
	if err == nil {
		err = sess.ReplaceRecords(records)
	}
	if err != nil {
		if errors.Is(err, session.ErrInvalidRecord) {
			respondError(c, http.StatusUnprocessableEntity, "Registro no válido", map[string]string{"records": err.Error()})
			return
		}
		_ = c.Error(err)
		return
	}
	respond(c, http.StatusOK, newDraftView(sess.Draft()))
}

type calculateRequest struct {
	// Validated after Normalize, not by the binder
	Declaration   tax.Declaration  `json:"declaration" binding:"-"`
	Manual        tax.Manual       `json:"manual"`
	PriorPayments *decimal.Decimal `json:"prior_payments"`
}

func (s *Server) calculate(c *gin.Context) {
	sess := currentSession(c)

	var req calculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "JSON inválido", map[string]string{"request": err.Error()})
		return
	}

	decl := req.Declaration.Normalize()
	if err := decl.Validate(); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "Datos de la declaración no válidos", tax.FieldErrors(err))
		return
	}

	prior := decimal.Zero
	if req.PriorPayments != nil {
		prior = *req.PriorPayments
	}
	totals := tax.Resolve(tax.Aggregate(sess.Draft().Records), req.Manual)

	summary, err := s.deps.Calculator.Calculate(decl, totals, prior)
	if err != nil {
		if errors.Is(err, tax.ErrNegativeAmount) {
			field, _, _ := strings.Cut(err.Error(), ":")
			respondError(c, http.StatusUnprocessableEntity, "Los importes no pueden ser negativos",
				map[string]string{field: "must not be negative"})
			return
		}
		_ = c.Error(err)
		return
	}

	sess.SetSummary(summary)
	respond(c, http.StatusOK, newSummaryView(summary))
}

func (s *Server) saveSummary(c *gin.Context) {
	summary, err := currentSession(c).SaveSummary()
	if err != nil {
		respondError(c, http.StatusConflict, "No hay ningún cálculo pendiente de guardar", nil)
		return
	}
	respond(c, http.StatusCreated, newSummaryView(summary))
}

func (s *Server) history(c *gin.Context) {
	summaries := currentSession(c).Ledger().Summaries()
	views := make([]summaryView, len(summaries))
	for i, summary := range summaries {
		views[i] = newSummaryView(summary)
	}
	respond(c, http.StatusOK, gin.H{"summaries": views})
}

func (s *Server) exportSummary(c *gin.Context) {
	format, ok := parseFormat(c, export.FormatCSV, export.FormatXLSX, export.FormatPDF)
	if !ok {
		return
	}
	summary, err := currentSession(c).LastSummary()
	if err != nil {
		respondError(c, http.StatusNotFound, "Todavía no se ha calculado ningún resumen", nil)
		return
	}
	s.sendExport(c, format, []tax.Summary{summary}, export.Filename(summary, format))
}

func (s *Server) exportHistory(c *gin.Context) {
	format, ok := parseFormat(c, export.FormatCSV, export.FormatXLSX)
	if !ok {
		return
	}
	summaries := currentSession(c).Ledger().Summaries()
	s.sendExport(c, format, summaries, "modelo130_historial."+string(format))
}

func parseFormat(c *gin.Context, allowed ...export.Format) (export.Format, bool) {
	format := export.Format(strings.ToLower(c.DefaultQuery("format", string(export.FormatCSV))))
	for _, f := range allowed {
		if f == format {
			return format, true
		}
	}
	names := make([]string, len(allowed))
	for i, f := range allowed {
		names[i] = string(f)
	}
	respondError(c, http.StatusBadRequest, "Formato de exportación no soportado",
		map[string]string{"format": "must be one of: " + strings.Join(names, ", ")})
	return "", false
}

func (s *Server) sendExport(c *gin.Context, format export.Format, summaries []tax.Summary, filename string) {
	var buf bytes.Buffer
	if err := export.Write(&buf, format, summaries); err != nil {
		_ = c.Error(fmt.Errorf("export %s: %w", format, err))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

func (s *Server) appendToSheets(c *gin.Context) {
	if s.deps.Sheets == nil {
		respondError(c, http.StatusServiceUnavailable, "La exportación a Google Sheets no está configurada", nil)
		return
	}
	summary, err := currentSession(c).LastSummary()
	if err != nil {
		respondError(c, http.StatusNotFound, "Todavía no se ha calculado ningún resumen", nil)
		return
	}
	if err := s.deps.Sheets.AppendSummary(c.Request.Context(), summary); err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID(c)).Msg("Sheets append failed")
		respondError(c, http.StatusBadGateway, "No se pudo enviar el resumen a Google Sheets", nil)
		return
	}
	respond(c, http.StatusOK, gin.H{"appended": true, "summary_id": summary.ID})
}

type inquiryRequest struct {
	Text string `json:"text"`
}

func (s *Server) postInquiry(c *gin.Context) {
	sess := currentSession(c)

	var req inquiryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "JSON inválido", map[string]string{"request": err.Error()})
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(c, http.StatusUnprocessableEntity, "La consulta está vacía", map[string]string{"text": "is required"})
		return
	}

	var reply string
	if s.deps.Responder != nil {
		var last *tax.Summary
		if summary, err := sess.LastSummary(); err == nil {
			last = &summary
		}
		r, err := s.deps.Responder.Reply(c.Request.Context(), text, last)
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("Inquiry reply failed, storing inquiry without reply")
		} else {
			reply = r
		}
	}

	inquiry, _ := sess.Ledger().AppendInquiry(text, reply)
	respond(c, http.StatusCreated, gin.H{
		"inquiry": inquiry,
		"recent":  sess.Ledger().RecentInquiries(session.RecentInquiryLimit),
	})
}

func (s *Server) inquiries(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{
		"inquiries": currentSession(c).Ledger().RecentInquiries(session.RecentInquiryLimit),
	})
}

func (s *Server) endSession(c *gin.Context) {
	sess := currentSession(c)
	s.deps.Store.End(sess.ID)

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, "", -1, "/", "", s.opts.SecureCookies, true)
	respond(c, http.StatusOK, gin.H{"ended": true})
}
