package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terralot/financing-engine/api"
	"github.com/terralot/financing-engine/financing"
	"github.com/terralot/financing-engine/financing/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	ledger := financing.NewLedger(store.NewMemory(), financing.LateFeesAlwaysOn{}, log)
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(ledger, log)))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

type createdFinancing struct {
	Financing struct {
		ID string `json:"id"`
	} `json:"financing"`
	Installments []map[string]any `json:"installments"`
}

func createContract(t *testing.T, base string, total string, count int) createdFinancing {
	t.Helper()
	resp := postJSON(t, base+"/api/financings", map[string]any{
		"kind":                 "credit",
		"lateFeeEnabled":       true,
		"totalPrice":           total,
		"numberOfInstallments": count,
		"firstDueDate":         "2026-01-15",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created createdFinancing
	decode(t, resp, &created)
	require.NotEmpty(t, created.Financing.ID)
	return created
}

// =============================================================================
// FINANCING LIFECYCLE
// =============================================================================

func TestAPI_CreateFinancing(t *testing.T) {
	srv := newTestServer(t)

	created := createContract(t, srv.URL, "1000", 3)

	require.Len(t, created.Installments, 3)
	assert.Equal(t, "333.33", created.Installments[0]["couteAmount"])
	assert.Equal(t, "333.33", created.Installments[1]["couteAmount"])
	assert.Equal(t, "333.34", created.Installments[2]["couteAmount"])
	assert.Equal(t, "2026-01-15", created.Installments[0]["expectedPaymentDate"])
	assert.Equal(t, "2026-02-15", created.Installments[1]["expectedPaymentDate"])
	assert.Equal(t, string(financing.StatusPending), created.Installments[0]["status"])
}

func TestAPI_CreateFinancing_Validation(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"bad kind", map[string]any{
			"kind": "lease", "totalPrice": "1000", "numberOfInstallments": 3, "firstDueDate": "2026-01-15",
		}},
		{"zero installments", map[string]any{
			"kind": "credit", "totalPrice": "1000", "numberOfInstallments": 0, "firstDueDate": "2026-01-15",
		}},
		{"bad date", map[string]any{
			"kind": "credit", "totalPrice": "1000", "numberOfInstallments": 3, "firstDueDate": "15/01/2026",
		}},
		{"bad amount", map[string]any{
			"kind": "credit", "totalPrice": "lots", "numberOfInstallments": 3, "firstDueDate": "2026-01-15",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/financings", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestAPI_ListInstallments_NotFound(t *testing.T) {
	srv := newTestServer(t)

	resp := getJSON(t, srv.URL+"/api/financings/nope/installments")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestAPI_PayPrincipal_Waterfall(t *testing.T) {
	srv := newTestServer(t)
	created := createContract(t, srv.URL, "300", 3)

	resp := postJSON(t, fmt.Sprintf("%s/api/financings/%s/payments/principal", srv.URL, created.Financing.ID),
		map[string]any{"amount": "150"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Pool         string `json:"pool"`
		TotalApplied string `json:"totalApplied"`
		Entries      []struct {
			Number       int    `json:"numberCuote"`
			Mode         string `json:"mode"`
			Applied      string `json:"amountApplied"`
			PendingAfter string `json:"pendingAfterPayment"`
		} `json:"entries"`
	}
	decode(t, resp, &result)

	assert.Equal(t, "150.00", result.TotalApplied)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, "Total", result.Entries[0].Mode)
	assert.Equal(t, "100.00", result.Entries[0].Applied)
	assert.Equal(t, "Parcial", result.Entries[1].Mode)
	assert.Equal(t, "50.00", result.Entries[1].PendingAfter)

	// The list endpoint reflects the new balances.
	listResp := getJSON(t, fmt.Sprintf("%s/api/financings/%s/installments", srv.URL, created.Financing.ID))
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	var installments []map[string]any
	decode(t, listResp, &installments)
	assert.Equal(t, string(financing.StatusPaid), installments[0]["status"])
	assert.Equal(t, "50.00", installments[1]["coutePending"])
}

func TestAPI_PayPrincipal_Overpayment(t *testing.T) {
	srv := newTestServer(t)
	created := createContract(t, srv.URL, "300", 3)

	resp := postJSON(t, fmt.Sprintf("%s/api/financings/%s/payments/principal", srv.URL, created.Financing.ID),
		map[string]any{"amount": "300.01"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error string `json:"error"`
	}
	decode(t, resp, &body)
	assert.Contains(t, body.Error, "exceeds")
}

func TestAPI_PayLateFees_NothingOutstanding(t *testing.T) {
	srv := newTestServer(t)
	created := createContract(t, srv.URL, "300", 3)

	resp := postJSON(t, fmt.Sprintf("%s/api/financings/%s/payments/late-fees", srv.URL, created.Financing.ID),
		map[string]any{"amount": "10"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_RebuildAfterPayments(t *testing.T) {
	srv := newTestServer(t)
	created := createContract(t, srv.URL, "300", 3)
	payURL := fmt.Sprintf("%s/api/financings/%s/payments/principal", srv.URL, created.Financing.ID)

	require.Equal(t, http.StatusOK, postJSON(t, payURL, map[string]any{"amount": "120"}).StatusCode)
	require.Equal(t, http.StatusOK, postJSON(t, payURL, map[string]any{"amount": "80"}).StatusCode)

	resp := postJSON(t, fmt.Sprintf("%s/api/financings/%s/rebuild", srv.URL, created.Financing.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rebuilt struct {
		Installments []map[string]any `json:"installments"`
		Incomplete   bool             `json:"incomplete"`
	}
	decode(t, resp, &rebuilt)
	assert.False(t, rebuilt.Incomplete)
	require.Len(t, rebuilt.Installments, 3)
	assert.Equal(t, string(financing.StatusPaid), rebuilt.Installments[0]["status"])
	assert.Equal(t, string(financing.StatusPaid), rebuilt.Installments[1]["status"])
	assert.Equal(t, "100.00", rebuilt.Installments[2]["coutePending"])
}

// =============================================================================
// SCHEDULE PREVIEW
// =============================================================================

func TestAPI_PreviewSchedule_Single(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/schedule/preview", map[string]any{
		"lot": map[string]any{
			"totalPrice":           "1000",
			"numberOfInstallments": 3,
			"firstDueDate":         "2026-01-15",
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lines []struct {
		Number  int    `json:"number"`
		Amount  string `json:"amount"`
		DueDate string `json:"dueDate"`
	}
	decode(t, resp, &lines)
	require.Len(t, lines, 3)
	assert.Equal(t, "333.33", lines[0].Amount)
	assert.Equal(t, "333.34", lines[2].Amount)
	assert.Equal(t, "2026-03-15", lines[2].DueDate)
}

func TestAPI_PreviewSchedule_Merged(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/schedule/preview", map[string]any{
		"lot": map[string]any{
			"totalPrice":           "1200",
			"numberOfInstallments": 2,
			"firstDueDate":         "2026-01-15",
		},
		"urban": map[string]any{
			"totalPrice":           "600",
			"numberOfInstallments": 3,
			"firstDueDate":         "2026-01-15",
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var combined struct {
		Lines []struct {
			DueDate string  `json:"dueDate"`
			Lot     *string `json:"lot"`
			Urban   *string `json:"urban"`
			Total   string  `json:"total"`
		} `json:"lines"`
		LotCount   int    `json:"lotCount"`
		UrbanCount int    `json:"urbanDevelopmentCount"`
		GrandTotal string `json:"grandTotal"`
	}
	decode(t, resp, &combined)

	assert.Equal(t, 2, combined.LotCount)
	assert.Equal(t, 3, combined.UrbanCount)
	assert.Equal(t, "1800.00", combined.GrandTotal)
	require.Len(t, combined.Lines, 3)
	// First two months carry both schedules, the third urban only.
	assert.Equal(t, "800.00", combined.Lines[0].Total)
	require.Nil(t, combined.Lines[2].Lot)
	assert.Equal(t, "200.00", combined.Lines[2].Total)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAPI_Accrue_EmptyLedger(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/admin/accrue", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report financing.AccrualReport
	decode(t, resp, &report)
	assert.Equal(t, financing.AccrualReport{}, report)
}

func TestAPI_Health(t *testing.T) {
	srv := newTestServer(t)

	resp := getJSON(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
