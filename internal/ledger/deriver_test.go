package ledger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testXPub = "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"

func TestDeriveIsDeterministic(t *testing.T) {
	d := DepositDeriver{XPub: testXPub, Prefix: "rm"}

	first, err := d.Derive(0)
	require.NoError(t, err)
	again, err := d.Derive(0)
	require.NoError(t, err)
	require.Equal(t, first, again)
	require.True(t, strings.HasPrefix(first, "rm1"))
}

func TestDeriveDistinctPerIndex(t *testing.T) {
	d := DepositDeriver{XPub: testXPub, Prefix: "rm"}

	a, err := d.Derive(0)
	require.NoError(t, err)
	b, err := d.Derive(1)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestDeriveRequiresConfig(t *testing.T) {
	_, err := DepositDeriver{Prefix: "rm"}.Derive(0)
	require.Error(t, err)

	_, err = DepositDeriver{XPub: testXPub}.Derive(0)
	require.Error(t, err)

	_, err = DepositDeriver{XPub: "not-an-xpub", Prefix: "rm"}.Derive(0)
	require.Error(t, err)
}
