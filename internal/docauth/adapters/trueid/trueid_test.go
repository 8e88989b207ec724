package trueid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idproof/internal/docauth"
	id "idproof/pkg/domain"
	"idproof/pkg/requestcontext"
)

type detail struct {
	Group string
	Name  string
	Value string
}

func responseBody(details ...detail) []byte {
	params := make([]map[string]any, 0, len(details))
	for _, d := range details {
		params = append(params, map[string]any{
			"Group":  d.Group,
			"Name":   d.Name,
			"Values": []map[string]string{{"Value": d.Value}},
		})
	}
	body, _ := json.Marshal(map[string]any{
		"Status":   map[string]string{"ConversationId": "c-1", "TransactionStatus": "passed"},
		"Products": []map[string]any{{"ProductType": "TrueID", "ParameterDetails": params}},
	})
	return body
}

func auth(name, value string) detail  { return detail{groupAuthentication, name, value} }
func field(name, value string) detail { return detail{groupFields, "Fields_" + name, value} }
func portrait(value string) detail    { return detail{groupPortrait, "FaceMatchResult", value} }
func alertName(n int, name string) detail {
	return auth(fmt.Sprintf("Alert_%d_AlertName", n), name)
}
func alertResult(n int, result string) detail {
	return auth(fmt.Sprintf("Alert_%d_AuthenticationResult", n), result)
}

var passingFields = []detail{
	field("FirstName", "JANE"),
	field("Surname", "DOE"),
	field("DOB_Year", "1980"),
	field("DOB_Month", "2"),
	field("DOB_Day", "29"),
	field("AddressLine1", "1 MAIN ST"),
	field("City", "HELENA"),
	field("State", "MT"),
	field("PostalCode", "59601"),
	field("DocumentNumber", "D123"),
	field("IssuingStateCode", "MT"),
	field("ExpirationDate_Year", "2030"),
	field("ExpirationDate_Month", "1"),
	field("ExpirationDate_Day", "15"),
}

func jpeg() []byte {
	b := make([]byte, 2048)
	copy(b, []byte{0xFF, 0xD8, 0xFF})
	return b
}

func stateIDImages() docauth.Images {
	return docauth.Images{Front: jpeg(), Back: jpeg()}
}

func testCtx() context.Context {
	return requestcontext.WithTime(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func serve(t *testing.T, status int, body []byte) (*httptest.Server, *verifyRequest) {
	t.Helper()
	captured := &verifyRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, verifyPath, r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(captured)
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func TestSubmit_Pass(t *testing.T) {
	details := append([]detail{auth("DocAuthResult", "Passed"), auth("DocClassName", "Drivers License")}, passingFields...)
	srv, captured := serve(t, http.StatusOK, responseBody(details...))
	a := New(srv.URL, "key", time.Second)

	sessionID := id.NewCaptureSessionID()
	sub, err := a.Submit(testCtx(), stateIDImages(), docauth.Metadata{IDType: docauth.IDTypeStateID, CaptureSessionID: sessionID})
	require.NoError(t, err)
	require.NotNil(t, sub.Verdict)
	assert.Nil(t, sub.Pending)

	v := sub.Verdict
	assert.Equal(t, docauth.ResultPass, v.Result)
	require.NotNil(t, v.Fields)
	assert.Equal(t, "JANE", v.Fields.FirstName)
	assert.Equal(t, "DOE", v.Fields.LastName)
	assert.Equal(t, "1980-02-29", v.Fields.DOB)
	assert.Equal(t, "2030-01-15", v.Fields.ExpirationDate)

	assert.Equal(t, "DriversLicense", captured.Settings.DocumentType)
	assert.Equal(t, sessionID.String(), captured.Settings.Reference)
	assert.NotEmpty(t, captured.Document.Front)
	assert.NotEmpty(t, captured.Document.Back)
	assert.Empty(t, captured.Document.Selfie)
}

func TestSubmit_FailedAlertsMapToReasons(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, responseBody(
		auth("DocAuthResult", "Failed"),
		alertName(1, "Document Expired"),
		alertResult(1, "Failed"),
		alertName(2, "Visible Pattern"),
		alertResult(2, "Passed"),
		alertName(3, "Document Classification"),
		alertResult(3, "Attention"),
		alertName(4, "Expiration Date Valid"),
		alertResult(4, "Failed"),
	))
	a := New(srv.URL, "key", time.Second)

	sub, err := a.Submit(testCtx(), stateIDImages(), docauth.Metadata{IDType: docauth.IDTypeStateID})
	require.NoError(t, err)
	v := sub.Verdict
	assert.Equal(t, docauth.ResultFail, v.Result)
	assert.False(t, v.Transport)
	assert.Equal(t, []docauth.Reason{docauth.ReasonExpired, docauth.ReasonUnsupportedIDType}, v.Reasons)
	assert.Contains(t, v.VendorCodes, "Document Expired")
	assert.NotContains(t, v.VendorCodes, "Visible Pattern")
}

func TestSubmit_LowResolution(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, responseBody(
		auth("DocAuthResult", "Failed"),
		detail{groupImageMetrics, "HorizontalResolution", "300"},
	))
	a := New(srv.URL, "key", time.Second)

	sub, err := a.Submit(testCtx(), stateIDImages(), docauth.Metadata{IDType: docauth.IDTypeStateID})
	require.NoError(t, err)
	assert.Equal(t, []docauth.Reason{docauth.ReasonLowResolution}, sub.Verdict.Reasons)
}

func TestSubmit_AttentionWithBarcodePasses(t *testing.T) {
	details := append([]detail{
		auth("DocAuthResult", "Attention"),
		alertName(1, "2D Barcode Read"),
		alertResult(1, "Attention"),
	}, passingFields...)
	srv, _ := serve(t, http.StatusOK, responseBody(details...))
	a := New(srv.URL, "key", time.Second)

	sub, err := a.Submit(testCtx(), stateIDImages(), docauth.Metadata{IDType: docauth.IDTypeStateID})
	require.NoError(t, err)
	assert.Equal(t, docauth.ResultPass, sub.Verdict.Result)
}

func TestSubmit_SelfieMismatch(t *testing.T) {
	details := append([]detail{auth("DocAuthResult", "Passed"), portrait("Fail")}, passingFields...)
	srv, captured := serve(t, http.StatusOK, responseBody(details...))
	a := New(srv.URL, "key", time.Second)

	images := stateIDImages()
	images.Selfie = jpeg()
	sub, err := a.Submit(testCtx(), images, docauth.Metadata{IDType: docauth.IDTypeStateID, SelfieRequired: true})
	require.NoError(t, err)
	assert.Equal(t, docauth.ResultFail, sub.Verdict.Result)
	assert.Equal(t, []docauth.Reason{docauth.ReasonSelfieMismatch}, sub.Verdict.Reasons)
	assert.True(t, captured.Settings.Liveness)
	assert.NotEmpty(t, captured.Document.Selfie)
}

func TestSubmit_PassportClassMismatch(t *testing.T) {
	details := append([]detail{auth("DocAuthResult", "Passed"), auth("DocClassName", "Passport")}, passingFields...)
	srv, _ := serve(t, http.StatusOK, responseBody(details...))
	a := New(srv.URL, "key", time.Second)

	sub, err := a.Submit(testCtx(), stateIDImages(), docauth.Metadata{IDType: docauth.IDTypeStateID})
	require.NoError(t, err)
	assert.Equal(t, []docauth.Reason{docauth.ReasonUnsupportedIDType}, sub.Verdict.Reasons)
}

func TestSubmit_Underage(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, responseBody(
		auth("DocAuthResult", "Passed"),
		field("DOB_Year", "2010"),
		field("DOB_Month", "6"),
		field("DOB_Day", "1"),
	))
	a := New(srv.URL, "key", time.Second)

	sub, err := a.Submit(testCtx(), stateIDImages(), docauth.Metadata{IDType: docauth.IDTypeStateID})
	require.NoError(t, err)
	assert.Equal(t, []docauth.Reason{docauth.ReasonUnderage}, sub.Verdict.Reasons)
}

func TestSubmit_TransportFailures(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		srv, _ := serve(t, http.StatusServiceUnavailable, nil)
		sub, err := New(srv.URL, "key", time.Second).Submit(testCtx(), stateIDImages(), docauth.Metadata{IDType: docauth.IDTypeStateID})
		require.NoError(t, err)
		assert.Equal(t, docauth.ResultError, sub.Verdict.Result)
		assert.True(t, sub.Verdict.Transport)
		assert.Equal(t, []docauth.Reason{docauth.ReasonVendorUnavailable}, sub.Verdict.Reasons)
	})

	t.Run("garbage body", func(t *testing.T) {
		srv, _ := serve(t, http.StatusOK, []byte("<html>"))
		sub, err := New(srv.URL, "key", time.Second).Submit(testCtx(), stateIDImages(), docauth.Metadata{IDType: docauth.IDTypeStateID})
		require.NoError(t, err)
		assert.True(t, sub.Verdict.Transport)
	})

	t.Run("missing product", func(t *testing.T) {
		srv, _ := serve(t, http.StatusOK, []byte(`{"Products":[]}`))
		sub, err := New(srv.URL, "key", time.Second).Submit(testCtx(), stateIDImages(), docauth.Metadata{IDType: docauth.IDTypeStateID})
		require.NoError(t, err)
		assert.True(t, sub.Verdict.Transport)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		t.Cleanup(srv.Close)
		sub, err := New(srv.URL, "key", 20*time.Millisecond).Submit(testCtx(), stateIDImages(), docauth.Metadata{IDType: docauth.IDTypeStateID})
		require.NoError(t, err)
		assert.Equal(t, []docauth.Reason{docauth.ReasonTimeout}, sub.Verdict.Reasons)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		sub, err := New(url, "key", time.Second).Submit(testCtx(), stateIDImages(), docauth.Metadata{IDType: docauth.IDTypeStateID})
		require.NoError(t, err)
		assert.Equal(t, []docauth.Reason{docauth.ReasonVendorUnavailable}, sub.Verdict.Reasons)
	})
}

func TestPreCheck_PassportOnly(t *testing.T) {
	a := New("http://unused", "key", time.Second)
	err := a.PreCheck(docauth.Images{Passport: jpeg()}, docauth.Metadata{IDType: docauth.IDTypePassport})
	assert.NoError(t, err)
	err = a.PreCheck(docauth.Images{Front: jpeg()}, docauth.Metadata{IDType: docauth.IDTypeStateID})
	assert.Error(t, err)
}

func TestJoinDate(t *testing.T) {
	assert.Equal(t, "2000-01-02", joinDate("2000", "1", "2"))
	assert.Equal(t, "", joinDate("2001", "2", "29"))
	assert.Equal(t, "", joinDate("", "1", "1"))
}
