package extensions

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	molecule "github.com/molecule-fn/molecule-go"
)

func TestGraphDebugExtension_Render(t *testing.T) {
	t.Parallel()

	ext := NewGraphDebugExtension(nil)
	inj := molecule.NewInjector(molecule.WithExtension(ext))
	tenant := molecule.NewScope("", molecule.WithScopeLabel("tenant"))

	dbMol := molecule.New(func(ctx *molecule.ResolveCtx) (string, error) {
		id, err := molecule.ScopeVal(ctx, tenant)
		if err != nil {
			return "", err
		}
		return "db:" + id, nil
	}, molecule.WithMoleculeLabel("db"))
	appMol := molecule.New(func(ctx *molecule.ResolveCtx) (string, error) {
		db, err := molecule.Dep(ctx, dbMol)
		if err != nil {
			return "", err
		}
		return "app(" + db + ")", nil
	}, molecule.WithMoleculeLabel("app"))

	out := ext.Render(inj, appMol, tenant.With("acme"))
	assert.Contains(t, out, "no cached instance")

	_, err := molecule.Get(inj, appMol, tenant.With("acme"))
	require.NoError(t, err)

	out = ext.Render(inj, appMol, tenant.With("acme"))
	assert.Contains(t, out, "app")
	assert.Contains(t, out, "db [tenant=acme]")
}

func TestGraphDebugExtension_LogsFailures(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ext := NewGraphDebugExtension(slog.NewTextHandler(&buf, nil))
	inj := molecule.NewInjector(molecule.WithExtension(ext))

	boom := errors.New("no such table")
	mol := molecule.New(func(ctx *molecule.ResolveCtx) (int, error) {
		return 0, boom
	}, molecule.WithMoleculeLabel("broken"))

	_, err := molecule.Get(inj, mol)
	require.ErrorIs(t, err, boom)

	out := buf.String()
	assert.Contains(t, out, "molecule operation failed")
	assert.Contains(t, out, "broken")
	assert.Contains(t, out, "no such table")
}
