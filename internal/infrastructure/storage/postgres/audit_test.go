package postgres

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "facturas/internal/core/context"
	"facturas/internal/core/id"
)

func TestAuditService_PrepareFillsCaller(t *testing.T) {
	svc, err := NewAuditService(nil, 0)
	require.NoError(t, err)

	ctx := appctx.WithUser(context.Background(), &appctx.UserContext{UserID: "buyer-1", Email: "buyer@example.com"})
	entry := AuditEntry{EntityType: "invoice", Action: "update", Changes: json.RawMessage(`{"a":1}`)}

	svc.prepare(ctx, &entry)

	assert.Equal(t, "buyer-1", entry.UserID)
	assert.Equal(t, "buyer@example.com", entry.UserEmail)
	assert.False(t, id.IsNil(entry.ID))
	assert.False(t, entry.CreatedAt.IsZero())
	assert.Equal(t, CompressionNone, entry.CompressionAlgo)
	assert.JSONEq(t, `{"a":1}`, string(entry.Changes))
	assert.Nil(t, entry.ChangesCompressed)
}

func TestAuditService_PrepareKeepsExplicitUser(t *testing.T) {
	svc, err := NewAuditService(nil, 0)
	require.NoError(t, err)

	ctx := appctx.WithUser(context.Background(), &appctx.UserContext{UserID: "buyer-1"})
	entry := AuditEntry{UserID: "system"}

	svc.prepare(ctx, &entry)

	assert.Equal(t, "system", entry.UserID)
}

func TestAuditService_CompressionRoundTrip(t *testing.T) {
	svc, err := NewAuditService(nil, 64)
	require.NoError(t, err)

	big, err := json.Marshal(map[string]string{"comment": strings.Repeat("x", 1024)})
	require.NoError(t, err)

	entry := AuditEntry{Changes: big}
	svc.prepare(context.Background(), &entry)

	require.Equal(t, CompressionZstd, entry.CompressionAlgo)
	assert.Nil(t, entry.Changes)
	assert.Less(t, len(entry.ChangesCompressed), len(big))

	require.NoError(t, svc.decompress(&entry))
	assert.JSONEq(t, string(big), string(entry.Changes))
	assert.Nil(t, entry.ChangesCompressed)
}

func TestAuditService_DecompressSkipsPlainEntries(t *testing.T) {
	svc, err := NewAuditService(nil, 0)
	require.NoError(t, err)

	entry := AuditEntry{Changes: json.RawMessage(`{}`), CompressionAlgo: CompressionNone}
	require.NoError(t, svc.decompress(&entry))
	assert.Equal(t, json.RawMessage(`{}`), entry.Changes)
}

func TestNullJSON(t *testing.T) {
	assert.Nil(t, nullJSON(nil))
	assert.Equal(t, `{"k":"v"}`, nullJSON(json.RawMessage(`{"k":"v"}`)))
}
