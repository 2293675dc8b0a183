package live

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/jarcoal/httpmock"
	"github.com/kozaktomas/class-attendance/internal/attendance"
	"github.com/kozaktomas/class-attendance/internal/recognition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testServer = "http://attendance.test"

func newTestRemote(t *testing.T) *RemoteClient {
	t.Helper()
	c := NewRemoteClient(testServer+"/", 0, nil)
	c.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	httpmock.ActivateNonDefault(c.client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestRemoteClient_LoadCandidates(t *testing.T) {
	c := newTestRemote(t)

	httpmock.RegisterResponderWithQuery(http.MethodGet, testServer+"/api/v1/identities/export", "section=CSE-3A",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"count": 2,
			"identities": []recognition.Candidate{
				candidate(1, "CS001", axis(0, 1)),
				candidate(2, "CS002", []float32{1, 2, 3}),
			},
		}))

	got, err := c.LoadCandidates(context.Background(), "CSE-3A")
	require.NoError(t, err)
	require.Len(t, got, 1, "candidate with the wrong dimension is skipped")
	assert.Equal(t, "CS001", got[0].ExternalUID)
	assert.Equal(t, float32(1), got[0].Embedding[0])
}

func TestRemoteClient_MarkPresent(t *testing.T) {
	c := newTestRemote(t)

	var received attendance.PresentRequest
	httpmock.RegisterResponder(http.MethodPost, testServer+"/api/v1/attendance/present",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, `{"error":"bad body"}`), nil
			}
			return httpmock.NewJsonResponse(http.StatusOK, attendance.PresentResult{
				Marked:  []string{"CS001"},
				Unknown: []string{"CS404"},
				Failed:  []string{},
			})
		})

	res, err := c.MarkPresent(context.Background(), attendance.PresentRequest{
		ExternalUIDs: []string{"CS001", "CS404"},
		Subject:      "Networks",
		Slot:         "P1",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"CS001"}, res.Marked)
	assert.Equal(t, []string{"CS404"}, res.Unknown)
	assert.Equal(t, []string{"CS001", "CS404"}, received.ExternalUIDs)
	assert.Equal(t, "Networks", received.Subject)
}

func TestRemoteClient_RetriesServerErrors(t *testing.T) {
	c := newTestRemote(t)

	calls := 0
	httpmock.RegisterResponder(http.MethodPost, testServer+"/api/v1/attendance/present",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return httpmock.NewStringResponse(http.StatusServiceUnavailable, `{"error":"AI engine unavailable"}`), nil
			}
			return httpmock.NewJsonResponse(http.StatusOK, attendance.PresentResult{Marked: []string{"CS001"}})
		})

	res, err := c.MarkPresent(context.Background(), attendance.PresentRequest{ExternalUIDs: []string{"CS001"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"CS001"}, res.Marked)
	assert.Equal(t, 3, calls)
}

func TestRemoteClient_GivesUpAfterMaxRetries(t *testing.T) {
	c := newTestRemote(t)
	httpmock.RegisterResponder(http.MethodGet, testServer+"/api/v1/identities/export",
		httpmock.NewStringResponder(http.StatusInternalServerError, `{"error":"internal server error"}`))

	_, err := c.LoadCandidates(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Equal(t, 4, httpmock.GetTotalCallCount(), "one attempt plus three retries")
}

func TestRemoteClient_ClientErrorIsNotRetried(t *testing.T) {
	c := newTestRemote(t)
	httpmock.RegisterResponder(http.MethodPost, testServer+"/api/v1/attendance/present",
		httpmock.NewStringResponder(http.StatusBadRequest, `{"error":"invalid input: at least one uid is required"}`))

	_, err := c.MarkPresent(context.Background(), attendance.PresentRequest{})
	require.Error(t, err)

	var serr *statusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusBadRequest, serr.Code)
	assert.Contains(t, serr.Message, "at least one uid")
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestRemoteClient_CancelledContext(t *testing.T) {
	c := newTestRemote(t)
	httpmock.RegisterResponder(http.MethodGet, testServer+"/api/v1/identities/export",
		httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.LoadCandidates(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}
