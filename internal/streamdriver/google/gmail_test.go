package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/oauthclient"
	"github.com/fernfall/dayline/internal/platform/logging"
	"github.com/fernfall/dayline/internal/storage/memstore"
	"github.com/fernfall/dayline/internal/streamdriver"
)

// noopExchanger is never exercised in these tests: the fixture credentials
// never expire, so oauthclient.Client has no reason to refresh them.
type noopExchanger struct{}

func (noopExchanger) Exchange(ctx context.Context, tokenURL, refreshToken string) (domain.Credentials, error) {
	return domain.Credentials{}, nil
}

type noopCredStore struct{}

func (noopCredStore) SaveCredentials(ctx context.Context, sourceID string, creds domain.Credentials) error {
	return nil
}

func newTestClient() *oauthclient.Client {
	return oauthclient.New(logging.New("test", "error", "json"), ErrorHandler{}, noopExchanger{}, noopCredStore{}, nil)
}

// TestGmailStream_CursorInvalidFallsBackToFullRefresh exercises spec §4.3
// scenario S2 end to end through a real oauthclient.Client: an incremental
// sync whose first request 410s (expired historyId) clears the cursor and
// retries once as a full refresh within the same Sync call, and the second
// attempt's results land in the same SyncOutcome.
func TestGmailStream_CursorInvalidFallsBackToFullRefresh(t *testing.T) {
	var listCalls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			n := listCalls.Add(1)
			if n == 1 {
				w.WriteHeader(http.StatusGone)
				_, _ = w.Write([]byte(`{"error":{"code":410,"status":"FAILED_PRECONDITION"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"messages":[{"id":"msg-1"}],"historyId":"99"}`))
			return
		}

		if strings.HasPrefix(r.URL.Path, "/msg-1") {
			_, _ = w.Write([]byte(`{"id":"msg-1","threadId":"t-1","internalDate":"1700000000000"}`))
			return
		}

		t.Fatalf("unexpected request path %q", r.URL.Path)
	}))
	defer server.Close()

	origAPI, origToken := GmailAPI, TokenURL
	GmailAPI, TokenURL = server.URL, server.URL+"/token"
	defer func() { GmailAPI, TokenURL = origAPI, origToken }()

	gw := memstore.New()
	ctx := context.Background()

	sc := domain.SourceConnection{
		ID:          "source-1",
		Kind:        "google",
		Auth:        domain.AuthOAuth,
		Credentials: domain.Credentials{AccessToken: "token"},
	}
	require.NoError(t, gw.SetCursor(ctx, sc.ID, gmailStreamKind, encodeCursor("history", "stale")))

	stream := &GmailStream{
		sc: sc,
		deps: Deps{
			Client:    newTestClient(),
			Writer:    gw,
			Cursors:   gw,
			SourceTab: GmailTableName,
		},
	}

	outcome, err := stream.Sync(ctx, streamdriver.Incremental())
	require.NoError(t, err)

	assert.Equal(t, "success", outcome.Status)
	assert.True(t, outcome.FellBackToFullRefresh)
	assert.Equal(t, 1, outcome.RecordsFetched)
	assert.Equal(t, 1, outcome.RecordsWritten)
	assert.Equal(t, encodeCursor("history", "99"), outcome.CursorAfter)
	assert.Equal(t, int32(2), listCalls.Load())
}
