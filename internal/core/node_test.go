package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/fleet/internal/model"
)

func scanTestNode(id, hostname string, roles []string, status model.NodeStatus) func(dest ...any) error {
	now := time.Now().Truncate(time.Microsecond)
	ip := "10.0.0.10"
	return func(dest ...any) error {
		*(dest[0].(*string)) = id
		*(dest[1].(*string)) = hostname
		*(dest[2].(**string)) = &ip
		*(dest[3].(*string)) = "fleet"
		*(dest[4].(*int)) = 22
		*(dest[5].(*[]string)) = roles
		*(dest[6].(*model.NodeStatus)) = status
		*(dest[7].(*float64)) = 40
		*(dest[8].(*float64)) = 50
		*(dest[9].(*float64)) = 30
		*(dest[10].(**time.Time)) = &now
		*(dest[11].(*time.Time)) = now
		*(dest[12].(*time.Time)) = now
		return nil
	}
}

func TestNodeService_GetByID_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: scanTestNode("n1", "node-1.example.com", []string{"web"}, model.NodeOnline)}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	node, err := svc.GetByID(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "n1", node.ID)
	assert.Equal(t, model.NodeOnline, node.Status)
	assert.Equal(t, []string{"web"}, node.Roles)
	db.AssertExpectations(t)
}

func TestNodeService_GetByID_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error { return errors.New("no rows in result set") }}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := svc.GetByID(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get node missing")
}

func TestNodeService_Resolve_FallsBackToHostname(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db)
	ctx := context.Background()

	byID := &mockRow{scanFunc: func(dest ...any) error { return errors.New("no rows") }}
	byHostname := &mockRow{scanFunc: scanTestNode("n1", "node-1.example.com", nil, model.NodeOnline)}

	db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "WHERE id =")
	}), mock.Anything).Return(byID).Once()
	db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "WHERE hostname =")
	}), mock.Anything).Return(byHostname).Once()

	node, err := svc.Resolve(ctx, "node-1.example.com")
	require.NoError(t, err)
	assert.Equal(t, "n1", node.ID)
	db.AssertExpectations(t)
}

func TestNodeService_ListByStatus(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db)
	ctx := context.Background()

	rows := newMockRows(
		scanTestNode("n1", "node-1", []string{"web"}, model.NodeDegraded),
		scanTestNode("n2", "node-2", nil, model.NodeDegraded),
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	nodes, err := svc.ListByStatus(ctx, model.NodeDegraded, model.NodeError)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "n2", nodes[1].ID)
}

func TestNodeService_SwapRoles_SingleStatement(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "CASE id")
	}), mock.Anything).Return(pgconn.CommandTag{}, nil)

	err := svc.SwapRoles(ctx, "blue", []string{"web"}, "green", []string{"web", "redis"})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestNodeService_UpdateHeartbeat_DBError(t *testing.T) {
	db := &mockDB{}
	svc := NewNodeService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("db error"))

	err := svc.UpdateHeartbeat(ctx, "n1", 10, 20, 30, model.NodeOnline, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update node n1 heartbeat")
}

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}
