package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelo130/internal/ingest"
	"modelo130/internal/invoice"
	"modelo130/internal/ocr"
	"modelo130/internal/session"
	"modelo130/internal/tax"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

const incomeCSV = "fecha;nif;importe_sin_iva;iva;retencion\n" +
	"01/04/2024;B12345678;1.000,00;210,00;150,00\n" +
	"15/05/2024;B87654321;2.000,00;420,00;300,00\n"

const expenseCSV = "fecha;nif;importe\n02/04/2024;A11111111;500,00\n"

var validDeclaration = map[string]interface{}{
	"nif":           "12345678z",
	"name":          "Lucía Martín",
	"regime":        tax.RegimeSimplified,
	"activity_code": "763",
	"year":          2024,
	"quarter":       2,
}

type fakeSheets struct {
	mu      sync.Mutex
	err     error
	summary []tax.Summary
}

func (f *fakeSheets) AppendSummary(_ context.Context, s tax.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.summary = append(f.summary, s)
	return nil
}

type fakeResponder struct {
	reply   string
	err     error
	summary *tax.Summary
}

func (f *fakeResponder) Reply(_ context.Context, _ string, summary *tax.Summary) (string, error) {
	f.summary = summary
	return f.reply, f.err
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	calc, err := tax.NewCalculator(tax.DefaultRate)
	require.NoError(t, err)

	if deps.Store == nil {
		deps.Store = session.NewStore(time.Hour)
	}
	deps.Pipeline = ingest.NewPipeline(invoice.NewNormalizer(), nil, ocr.NewPDFPaginator(), ingest.Options{Workers: 2, Timeout: time.Second})
	deps.Calculator = calc
	return New(deps, Options{MaxUploadBytes: 1 << 20})
}

// client keeps the session cookie between requests like a browser would.
type client struct {
	t       *testing.T
	handler http.Handler
	cookie  *http.Cookie
}

func newClient(t *testing.T, s *Server) *client {
	return &client{t: t, handler: s.Router()}
}

func (c *client) do(req *http.Request) *httptest.ResponseRecorder {
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)

	for _, ck := range w.Result().Cookies() {
		if ck.Name != sessionCookie {
			continue
		}
		if ck.Value == "" {
			c.cookie = nil
		} else {
			c.cookie = &http.Cookie{Name: ck.Name, Value: ck.Value}
		}
	}
	return w
}

func (c *client) json(method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := c.do(req)
	return w, decode(c.t, w)
}

func (c *client) upload(intent string, files map[string]string) (*httptest.ResponseRecorder, envelope) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if intent != "" {
		require.NoError(c.t, mw.WriteField("intent", intent))
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(c.t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(c.t, err)
	}
	require.NoError(c.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := c.do(req)
	return w, decode(c.t, w)
}

type envelope struct {
	Status  string            `json:"status"`
	Data    json.RawMessage   `json:"data"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return env
}

func (e envelope) into(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(e.Data, v))
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestIndexStartsSession(t *testing.T) {
	s := newTestServer(t, Deps{})
	c := newClient(t, s)

	w := c.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Modelo 130")
	assert.Contains(t, w.Body.String(), tax.RegimeNormal)
	assert.Contains(t, w.Body.String(), tax.Notes[0])
	require.NotNil(t, c.cookie)
	assert.Equal(t, 1, s.deps.Store.Len())

	first := c.cookie.Value
	c.do(httptest.NewRequest(http.MethodGet, "/api/v1/records", nil))
	assert.Equal(t, first, c.cookie.Value, "cookie is reused")
	assert.Equal(t, 1, s.deps.Store.Len())
}

func TestIndexWritesDataAsText(t *testing.T) {
	c := newClient(t, newTestServer(t, Deps{}))

	w := c.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	page := w.Body.String()
	assert.NotRegexp(t, `innerHTML\s*\+?=\s*[^'\s]`, page, "innerHTML is only ever cleared")
	assert.NotContains(t, page, "${")
	assert.Contains(t, page, "el.value = value")
	assert.Contains(t, page, "cell.textContent")

	hostile := `"><img src=x onerror=alert(1)>`
	w, env := c.upload("income", map[string]string{
		"ventas.csv": "importe_sin_iva,nif\n100.00,\"\"\"><img src=x onerror=alert(1)>\"\n",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Draft draftView `json:"draft"`
	}
	env.into(t, &body)
	require.Len(t, body.Draft.Records, 1)
	assert.Equal(t, hostile, body.Draft.Records[0].CounterpartID)
}

func TestHealth(t *testing.T) {
	c := newClient(t, newTestServer(t, Deps{}))

	w, env := c.json(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", env.Status)
	assert.Nil(t, c.cookie, "health does not start a session")
}

func TestIngestCalculateSaveExport(t *testing.T) {
	c := newClient(t, newTestServer(t, Deps{}))

	w, env := c.upload("income", map[string]string{"ventas.csv": incomeCSV})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ingested struct {
		Batch ingest.Result `json:"batch"`
		Draft draftView     `json:"draft"`
	}
	env.into(t, &ingested)
	require.Len(t, ingested.Batch.Records, 2)
	assert.Empty(t, ingested.Batch.Diagnostics)
	assert.Equal(t, "B12345678", ingested.Batch.Records[0].CounterpartID)

	w, _ = c.upload("expense", map[string]string{"compras.csv": expenseCSV})
	require.Equal(t, http.StatusOK, w.Code)

	w, env = c.json(http.MethodGet, "/api/v1/records", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var draft draftView
	env.into(t, &draft)
	require.Len(t, draft.Records, 3)
	assertDecimal(t, "3000", draft.Totals.Income)
	assertDecimal(t, "500", draft.Totals.Expense)
	assertDecimal(t, "450", draft.Totals.Withholding)

	_, env = c.json(http.MethodPost, "/api/v1/history", nil)
	assert.Equal(t, "error", env.Status, "nothing calculated yet")

	w, env = c.json(http.MethodPost, "/api/v1/calculate", map[string]interface{}{
		"declaration":    validDeclaration,
		"prior_payments": "20",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary summaryView
	env.into(t, &summary)
	assertDecimal(t, "2500", summary.NetYield)
	assertDecimal(t, "500", summary.Installment)
	assertDecimal(t, "30", summary.Result)
	assert.Equal(t, tax.Owed, summary.Outcome)
	assert.Equal(t, "A ingresar", summary.OutcomeLabel)
	assert.Equal(t, "12345678Z", summary.Declaration.NIF)
	assert.Equal(t, tax.Notes, summary.Notes)

	w, _ = c.json(http.MethodPost, "/api/v1/history", nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	w, _ = c.json(http.MethodPost, "/api/v1/history", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = c.json(http.MethodGet, "/api/v1/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Summaries []summaryView `json:"summaries"`
	}
	env.into(t, &history)
	require.Len(t, history.Summaries, 1)
	assert.Equal(t, summary.ID, history.Summaries[0].ID)

	w = c.do(httptest.NewRequest(http.MethodGet, "/api/v1/summary/export?format=csv", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "modelo130_2024_2T.csv")
	assert.True(t, strings.HasPrefix(w.Body.String(), "nif,nombre,"))
	assert.Contains(t, w.Body.String(), "12345678Z")

	w = c.do(httptest.NewRequest(http.MethodGet, "/api/v1/summary/export?format=pdf", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))

	w = c.do(httptest.NewRequest(http.MethodGet, "/api/v1/history/export?format=xlsx", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "modelo130_historial.xlsx")

	w, env = c.json(http.MethodGet, "/api/v1/history/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Errors, "format")
}

func TestIngestDiagnostics(t *testing.T) {
	c := newClient(t, newTestServer(t, Deps{}))

	w, env := c.upload("expense", map[string]string{
		"sin_importe.csv": "fecha;total\n01/01/2024;100,00\n",
		"notas.txt":       "hola",
		"escaneo.png":     "\x89PNG\r\n\x1a\nnot really",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var ingested struct {
		Batch ingest.Result `json:"batch"`
	}
	env.into(t, &ingested)
	assert.Empty(t, ingested.Batch.Records)

	kinds := map[string]ingest.DiagnosticKind{}
	for _, d := range ingested.Batch.Diagnostics {
		kinds[d.Source] = d.Kind
	}
	assert.Equal(t, map[string]ingest.DiagnosticKind{
		"sin_importe.csv": ingest.DiagMissingColumn,
		"notas.txt":       ingest.DiagUnsupportedType,
		"escaneo.png":     ingest.DiagExtractionFailed,
	}, kinds)
}

func TestIngestRejectsBadRequests(t *testing.T) {
	c := newClient(t, newTestServer(t, Deps{}))

	w, env := c.upload("income", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, env.Errors, "files")

	w, env = c.upload("refund", map[string]string{"a.csv": incomeCSV})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, env.Errors, "intent")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	assert.Equal(t, http.StatusBadRequest, c.do(req).Code)
}

func TestUnifiedIngestReplacesDraft(t *testing.T) {
	c := newClient(t, newTestServer(t, Deps{}))

	c.upload("expense", map[string]string{"compras.csv": expenseCSV})
	_, env := c.upload("", map[string]string{"ventas.csv": incomeCSV})

	var ingested struct {
		Intent ingest.Intent `json:"intent"`
		Draft  draftView     `json:"draft"`
	}
	env.into(t, &ingested)
	assert.Equal(t, ingest.IntentUnified, ingested.Intent)
	assert.Len(t, ingested.Draft.Records, 2)
	assert.True(t, ingested.Draft.Totals.Expense.IsZero())
}

func TestPutRecords(t *testing.T) {
	c := newClient(t, newTestServer(t, Deps{}))
	c.upload("income", map[string]string{"ventas.csv": incomeCSV})

	w, env := c.json(http.MethodPut, "/api/v1/records", map[string]interface{}{
		"records": []map[string]interface{}{
			{"base_amount": "-1", "classification": "income", "source_label": "ventas.csv"},
		},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, env.Errors, "records")

	w, env = c.json(http.MethodPut, "/api/v1/records", map[string]interface{}{
		"records": []map[string]interface{}{
			{"base_amount": "1200.50", "withheld_amount": "180", "classification": "income", "source_label": "ventas.csv"},
			{"base_amount": "300", "classification": "expense", "source_label": "manual"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var draft draftView
	env.into(t, &draft)
	assertDecimal(t, "1200.50", draft.Totals.Income)
	assertDecimal(t, "300", draft.Totals.Expense)
	assertDecimal(t, "180", draft.Totals.Withholding)

	w, _ = c.json(http.MethodPut, "/api/v1/records", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "records are required")
}

func TestPutRecordsParsesTypedAmounts(t *testing.T) {
	c := newClient(t, newTestServer(t, Deps{}))

	w, env := c.json(http.MethodPut, "/api/v1/records", map[string]interface{}{
		"records": []map[string]interface{}{
			{"base_amount": "120,50", "vat_amount": "", "withheld_amount": "18,08", "classification": "income", "source_label": "a.csv"},
			{"base_amount": "1.234,56", "vat_amount": nil, "classification": "income", "source_label": "b.csv"},
			{"base_amount": "", "withheld_amount": "abc", "classification": "income", "source_label": "c.csv"},
			{"base_amount": 75.5, "classification": "expense", "source_label": "d.csv"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var draft draftView
	env.into(t, &draft)
	require.Len(t, draft.Records, 4)
	assertDecimal(t, "1355.06", draft.Totals.Income)
	assertDecimal(t, "75.5", draft.Totals.Expense)
	assertDecimal(t, "18.08", draft.Totals.Withholding)
	assert.True(t, draft.Records[2].BaseAmount.IsZero())

	w, env = c.json(http.MethodPut, "/api/v1/records", map[string]interface{}{
		"records": []map[string]interface{}{
			{"base_amount": "100", "classification": "income", "source_label": "a.csv"},
			{"base_amount": "-12,00", "classification": "income", "source_label": "b.csv"},
		},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, env.Errors["records"], "row 2")

	_, env = c.json(http.MethodGet, "/api/v1/records", nil)
	env.into(t, &draft)
	assert.Len(t, draft.Records, 4, "a rejected edit leaves the draft untouched")
}

func TestCalculateManualTotals(t *testing.T) {
	c := newClient(t, newTestServer(t, Deps{}))

	w, env := c.json(http.MethodPost, "/api/v1/calculate", map[string]interface{}{
		"declaration": validDeclaration,
		"manual":      map[string]interface{}{"income": "1000", "expense": "1500", "withholding": "0"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var summary summaryView
	env.into(t, &summary)
	assertDecimal(t, "-500", summary.NetYield)
	assert.True(t, summary.Installment.IsZero())
	assert.True(t, summary.Result.IsZero())
	assert.Equal(t, tax.Owed, summary.Outcome)
	assert.Equal(t, []string{tax.WarningExpensesExceedIncome}, summary.Warnings)
}

func TestCalculateValidation(t *testing.T) {
	c := newClient(t, newTestServer(t, Deps{}))

	w, env := c.json(http.MethodPost, "/api/v1/calculate", map[string]interface{}{
		"declaration": map[string]interface{}{"regime": "otro", "year": 1999, "quarter": 5},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	for _, field := range []string{"nif", "name", "regime", "year", "quarter"} {
		assert.Contains(t, env.Errors, field)
	}

	w, env = c.json(http.MethodPost, "/api/v1/calculate", map[string]interface{}{
		"declaration":    validDeclaration,
		"prior_payments": "-5",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, env.Errors, "prior_payments")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/calculate", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, c.do(req).Code)

	w, _ = c.json(http.MethodGet, "/api/v1/summary/export", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "no failed calculation is kept")
}

func TestSheets(t *testing.T) {
	c := newClient(t, newTestServer(t, Deps{}))
	w, _ := c.json(http.MethodPost, "/api/v1/summary/sheets", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	sheets := &fakeSheets{}
	c = newClient(t, newTestServer(t, Deps{Sheets: sheets}))

	w, _ = c.json(http.MethodPost, "/api/v1/summary/sheets", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	c.json(http.MethodPost, "/api/v1/calculate", map[string]interface{}{"declaration": validDeclaration})
	w, _ = c.json(http.MethodPost, "/api/v1/summary/sheets", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, sheets.summary, 1)
	assert.Equal(t, "12345678Z", sheets.summary[0].Declaration.NIF)

	sheets.err = errors.New("quota exceeded")
	w, env := c.json(http.MethodPost, "/api/v1/summary/sheets", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, env.Message, "quota")
}

func TestInquiries(t *testing.T) {
	responder := &fakeResponder{reply: "Plazo: del 1 al 20 del mes siguiente."}
	c := newClient(t, newTestServer(t, Deps{Responder: responder}))

	w, env := c.json(http.MethodPost, "/api/v1/inquiries", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, env.Errors, "text")

	_, env = c.json(http.MethodGet, "/api/v1/inquiries", nil)
	var listed struct {
		Inquiries []session.Inquiry `json:"inquiries"`
	}
	env.into(t, &listed)
	assert.Empty(t, listed.Inquiries, "blank inquiry is not stored")

	for _, text := range []string{"uno", "dos", "tres", "cuatro", "cinco", "seis"} {
		w, _ = c.json(http.MethodPost, "/api/v1/inquiries", map[string]string{"text": text})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	assert.Nil(t, responder.summary)

	_, env = c.json(http.MethodGet, "/api/v1/inquiries", nil)
	env.into(t, &listed)
	require.Len(t, listed.Inquiries, session.RecentInquiryLimit)
	assert.Equal(t, "seis", listed.Inquiries[0].Text)
	assert.Equal(t, "dos", listed.Inquiries[4].Text)
	assert.Equal(t, responder.reply, listed.Inquiries[0].Reply)

	c.json(http.MethodPost, "/api/v1/calculate", map[string]interface{}{"declaration": validDeclaration})
	responder.err = errors.New("upstream down")
	w, env = c.json(http.MethodPost, "/api/v1/inquiries", map[string]string{"text": "¿y ahora?"})
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, responder.summary)
	var posted struct {
		Inquiry session.Inquiry `json:"inquiry"`
	}
	env.into(t, &posted)
	assert.Equal(t, "¿y ahora?", posted.Inquiry.Text)
	assert.Empty(t, posted.Inquiry.Reply)
}

func TestEndSession(t *testing.T) {
	s := newTestServer(t, Deps{})
	c := newClient(t, s)

	c.upload("income", map[string]string{"ventas.csv": incomeCSV})
	first := c.cookie.Value

	w, _ := c.json(http.MethodDelete, "/api/v1/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, c.cookie)
	assert.Equal(t, 0, s.deps.Store.Len())

	_, env := c.json(http.MethodGet, "/api/v1/records", nil)
	require.NotNil(t, c.cookie)
	assert.NotEqual(t, first, c.cookie.Value)
	var draft draftView
	env.into(t, &draft)
	assert.Empty(t, draft.Records)
}

func TestSessionsAreIsolated(t *testing.T) {
	s := newTestServer(t, Deps{})
	alice, bob := newClient(t, s), newClient(t, s)
	bob.handler = alice.handler

	alice.upload("income", map[string]string{"ventas.csv": incomeCSV})
	alice.json(http.MethodPost, "/api/v1/inquiries", map[string]string{"text": "hola"})

	_, env := bob.json(http.MethodGet, "/api/v1/records", nil)
	var draft draftView
	env.into(t, &draft)
	assert.Empty(t, draft.Records)

	_, env = bob.json(http.MethodGet, "/api/v1/inquiries", nil)
	var listed struct {
		Inquiries []session.Inquiry `json:"inquiries"`
	}
	env.into(t, &listed)
	assert.Empty(t, listed.Inquiries)
	assert.Equal(t, 2, s.deps.Store.Len())
}

func TestRecoveryHidesPanics(t *testing.T) {
	r := gin.New()
	r.Use(recovery())
	r.GET("/boom", func(*gin.Context) { panic("secret detail") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")
	assert.Contains(t, w.Body.String(), `"status":"error"`)
}

func TestPageData(t *testing.T) {
	data := newPageData(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, []int{2020, 2021, 2022, 2023, 2024, 2025}, data.Years)
	assert.Equal(t, 3, data.Quarter)
	assert.Equal(t, tax.Regimes, data.Regimes)
}
