package group

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFingerprint(fill byte) string {
	return strings.Repeat(string(rune("0123456789abcdef"[fill])), 128)
}

func TestNewRejectsCreatorNotInMembers(t *testing.T) {
	_, err := New("book club", "weekly", testFingerprint(1), []string{testFingerprint(2)})
	assert.ErrorIs(t, err, ErrCreatorNotMember)
}

func TestNewSetsCreatorAsOwner(t *testing.T) {
	creator := testFingerprint(1)
	g, err := New("book club", "weekly", creator, []string{creator, testFingerprint(2)})
	require.NoError(t, err)

	assert.Equal(t, creator, g.Owner())
	assert.Equal(t, uint32(0), g.Version())
	assert.Equal(t, uint32(0), g.GSKVersion())
	assert.Len(t, g.Members(), 2)
}

func TestAddMemberRequiresOwner(t *testing.T) {
	creator := testFingerprint(1)
	g, err := New("g", "d", creator, []string{creator})
	require.NoError(t, err)

	err = g.AddMember(testFingerprint(9), testFingerprint(2))
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestAddMemberIsIdempotent(t *testing.T) {
	creator := testFingerprint(1)
	newMember := testFingerprint(2)
	g, err := New("g", "d", creator, []string{creator})
	require.NoError(t, err)

	require.NoError(t, g.AddMember(creator, newMember))
	require.NoError(t, g.AddMember(creator, newMember))

	assert.Equal(t, uint32(1), g.Version())
	assert.Len(t, g.Members(), 2)
}

func TestRemoveMemberRejectsRemovingOwner(t *testing.T) {
	creator := testFingerprint(1)
	g, err := New("g", "d", creator, []string{creator, testFingerprint(2)})
	require.NoError(t, err)

	err = g.RemoveMember(creator, creator)
	assert.Error(t, err)
}

func TestRemoveMemberBumpsVersion(t *testing.T) {
	creator := testFingerprint(1)
	member := testFingerprint(2)
	g, err := New("g", "d", creator, []string{creator, member})
	require.NoError(t, err)

	require.NoError(t, g.RemoveMember(creator, member))
	assert.Equal(t, uint32(1), g.Version())
	assert.NotContains(t, g.Members(), member)
}

func TestSetOwnerRejectsNonMember(t *testing.T) {
	creator := testFingerprint(1)
	g, err := New("g", "d", creator, []string{creator})
	require.NoError(t, err)

	err = g.SetOwner(testFingerprint(2))
	assert.Error(t, err)
}

func TestSetOwnerInstallsMember(t *testing.T) {
	creator := testFingerprint(1)
	member := testFingerprint(2)
	g, err := New("g", "d", creator, []string{creator, member})
	require.NoError(t, err)

	require.NoError(t, g.SetOwner(member))
	assert.Equal(t, member, g.Owner())
	assert.Equal(t, uint32(1), g.Version())
}

func TestBumpGSKVersionOnlyMovesForward(t *testing.T) {
	creator := testFingerprint(1)
	g, err := New("g", "d", creator, []string{creator})
	require.NoError(t, err)

	g.BumpGSKVersion(3)
	assert.Equal(t, uint32(3), g.GSKVersion())

	g.BumpGSKVersion(1)
	assert.Equal(t, uint32(3), g.GSKVersion(), "gsk version must never regress")
}
