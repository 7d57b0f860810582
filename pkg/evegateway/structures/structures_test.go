package structures

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-aura/pkg/evegateway"
)

type allowAll struct{}

func (allowAll) WaitForPermission(context.Context) error { return nil }

func newTestClient(server *httptest.Server) Client {
	retry := evegateway.NewDefaultRetryClient(server.Client()).
		WithAttemptTimeouts([]time.Duration{time.Second}).
		WithBaseDelay(time.Millisecond)
	return NewStructuresClient(server.URL, "test-agent", retry, allowAll{})
}

func TestGetStructure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/universe/structures/1021975535893/", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(StructureResponse{
			Name:          "Perimeter - Tranquility Trading Tower",
			OwnerID:       98079862,
			SolarSystemID: 30000144,
			TypeID:        35834,
		})
	}))
	defer server.Close()

	client := newTestClient(server)

	structure, err := client.GetStructure(context.Background(), 1021975535893, "test-token")
	require.NoError(t, err)

	assert.Equal(t, "Perimeter - Tranquility Trading Tower", structure.Name)
	assert.Equal(t, int32(30000144), structure.SolarSystemID)
	assert.Equal(t, int32(35834), structure.TypeID)
}

func TestGetStructureAccessDenied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"Forbidden"}`))
	}))
	defer server.Close()

	client := newTestClient(server)

	_, err := client.GetStructure(context.Background(), 42, "test-token")
	require.Error(t, err)

	var httpErr *evegateway.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.StatusCode)
}
