package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newroi/ledger-service/internal/models"
)

// chain builds users 1..n where user i+1's upline is user i
func chain(n int) []*models.User {
	users := make([]*models.User, 0, n)
	for i := 1; i <= n; i++ {
		u := &models.User{ID: uint64(i), ReferralCode: fmt.Sprintf("U%d", i)}
		if i > 1 {
			u.UplineID = ptr(uint64(i - 1))
		}
		users = append(users, u)
	}
	return users
}

func TestWalkUplineStopsAtTenLevels(t *testing.T) {
	tree := NewReferralTree(chain(15), nil)

	nodes := tree.WalkUpline(15, 10)
	require.Len(t, nodes, 10)
	for i, node := range nodes {
		assert.Equal(t, i+1, node.Level)
		assert.Equal(t, uint64(14-i), node.User.ID)
	}

	assert.Len(t, tree.WalkUpline(15, 50), MaxReferralDepth)
	assert.Len(t, tree.WalkUpline(15, 3), 3)
	assert.Empty(t, tree.WalkUpline(1, 10))
	assert.Nil(t, tree.WalkUpline(99, 10))
}

func TestWalkUplineSurvivesCycle(t *testing.T) {
	users := []*models.User{
		{ID: 1, UplineID: ptr(3)},
		{ID: 2, UplineID: ptr(1)},
		{ID: 3, UplineID: ptr(2)},
	}
	tree := NewReferralTree(users, nil)

	nodes := tree.WalkUpline(1, 10)
	assert.Len(t, nodes, 2)
}

func TestWalkDownlineAnnotatesInvestedTotals(t *testing.T) {
	users := []*models.User{
		{ID: 1},
		{ID: 2, UplineID: ptr(1)},
		{ID: 3, UplineID: ptr(1)},
		{ID: 4, UplineID: ptr(2)},
	}
	investments := []*models.Investment{
		{ID: 1, UserID: 2, Amount: dec("100"), Status: models.InvestmentActive},
		{ID: 2, UserID: 4, Amount: dec("50"), Status: models.InvestmentActive},
		{ID: 3, UserID: 3, Amount: dec("500"), Status: models.InvestmentCancelled},
	}
	tree := NewReferralTree(users, investments)

	root := tree.WalkDownline(1, 10)
	require.NotNil(t, root)
	assert.Equal(t, 0, root.Level)
	assert.Equal(t, 2, root.DirectCount)
	assert.Equal(t, 1, root.QualifiedDirects)
	assert.True(t, root.NetworkInvested.Equal(dec("150")))
	require.Len(t, root.Children, 2)
	assert.True(t, root.Children[0].OwnInvested.Equal(dec("100")))
	assert.True(t, root.Children[0].NetworkInvested.Equal(dec("150")))
	assert.True(t, root.Children[1].OwnInvested.IsZero())

	shallow := tree.WalkDownline(1, 1)
	require.Len(t, shallow.Children, 2)
	assert.Empty(t, shallow.Children[0].Children)

	assert.Nil(t, tree.WalkDownline(42, 10))
}

func TestWalkDownlineStopsAtTenLevels(t *testing.T) {
	tree := NewReferralTree(chain(15), nil)

	depth := 0
	for node := tree.WalkDownline(1, 10); node != nil; {
		depth = node.Level
		if len(node.Children) == 0 {
			break
		}
		node = node.Children[0]
	}
	assert.Equal(t, 10, depth)
}

func TestUnlockedLevel(t *testing.T) {
	thresholds := []int{1, 2, 6, 8, 10, 12, 14, 16, 18, 20}

	tests := []struct {
		directs int
		want    int
	}{
		{0, 0},
		{1, 1},
		{5, 2},
		{6, 3},
		{20, 10},
		{100, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UnlockedLevel(tt.directs, thresholds), "directs=%d", tt.directs)
	}

	// a failed level blocks every level above it
	assert.Equal(t, 1, UnlockedLevel(3, []int{1, 5, 2}))
	assert.Equal(t, 0, UnlockedLevel(3, nil))
}

func TestAssignUplineRejectsCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.addUser(1, "COMPANY", nil, dec("0"))
	f.store.addUser(2, "BOB", ptr(1), dec("0"))
	f.store.addUser(3, "CAROL", ptr(2), dec("0"))
	f.store.addUser(4, "DAVE", nil, dec("0"))

	require.NoError(t, f.referrals.AssignUpline(ctx, 4, "carol"))
	assert.Equal(t, uint64(3), *f.store.data.users[4].UplineID)

	err := f.referrals.AssignUpline(ctx, 4, "BOB")
	assert.ErrorIs(t, err, ErrInvalidState)

	err = f.referrals.ChangeUpline(ctx, 2, 4)
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, uint64(1), *f.store.data.users[2].UplineID)

	err = f.referrals.ChangeUpline(ctx, 2, 2)
	assert.ErrorIs(t, err, ErrInvalidState)

	err = f.referrals.AssignUpline(ctx, 1, "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Invalid referral code", Reason(err))

	require.NoError(t, f.referrals.ChangeUpline(ctx, 3, 1))
	assert.Equal(t, uint64(1), *f.store.data.users[3].UplineID)
}

func TestNetworkCountsLevels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.store.addUser(1, "COMPANY", nil, dec("0"))
	f.store.addUser(2, "B", ptr(1), dec("0"))
	f.store.addUser(3, "C", ptr(1), dec("0"))
	f.store.addUser(4, "D", ptr(2), dec("0"))
	f.store.addInvestment(2, "100", "1", models.InvestmentActive, day)
	f.store.addInvestment(4, "40", "1", models.InvestmentActive, day)

	view, err := f.referrals.Network(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, view.TotalMembers)
	assert.Equal(t, 2, view.LevelCounts[0])
	assert.Equal(t, 1, view.LevelCounts[1])
	assert.Equal(t, 1, view.QualifiedDirects)
	assert.Equal(t, 1, view.UnlockedLevel)
	assert.True(t, view.NetworkInvested.Equal(dec("140")))

	_, err = f.referrals.Network(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}
